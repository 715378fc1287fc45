package prompts

import "embed"

// PromptsFS contains the workflow prompt templates.
//
//go:embed *.md
var PromptsFS embed.FS
