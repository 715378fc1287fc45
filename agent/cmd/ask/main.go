package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource/connect"
	"github.com/malbeclabs/lakeql/agent/pkg/redact"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
	"github.com/malbeclabs/lakeql/api/config"
	"github.com/malbeclabs/lakeql/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	showSQLFlag := flag.Bool("show-sql", true, "print the query that answered each question")
	progressFlag := flag.Bool("progress", false, "print each workflow stage as it runs")
	maxRetriesFlag := flag.Int("max-retries", 0, "maximum fix attempts per question (or set MAX_RETRIES env var)")
	noIntentFlag := flag.Bool("no-intent", false, "skip the ambiguity check and never ask for clarification")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ask [flags] [question]\n\nWith a question, answers it and exits. Without one, starts an interactive session.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New(*verboseFlag)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *maxRetriesFlag > 0 {
		cfg.MaxRetries = *maxRetriesFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := connect.Open(ctx, log, cfg.Datasource)
	if err != nil {
		return fmt.Errorf("failed to open datasource: %w", err)
	}
	defer src.Close()

	prompts, err := workflow.LoadPrompts(src.Dialect())
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	llm := workflow.NewAnthropicLLMClient(cfg.AnthropicModel, cfg.MaxTokens)

	cfg.Redact.Logger = log
	redactor, err := redact.New(cfg.Redact)
	if err != nil {
		return fmt.Errorf("failed to create redactor: %w", err)
	}

	wfCfg := &workflow.Config{
		Logger:      log,
		Catalog:     catalog.NewCached(log, src, cfg.SchemaCacheTTL),
		Generator:   workflow.NewLLMGenerator(llm, prompts),
		Executor:    src,
		Summarizer:  workflow.NewLLMSummarizer(llm, prompts),
		Redactor:    redactor,
		MaxRetries:  cfg.MaxRetries,
		RetryUnsafe: cfg.RetryUnsafe,
	}
	if !*noIntentFlag {
		wfCfg.Intent = workflow.NewLLMIntentAnalyzer(llm, prompts)
	}
	wf, err := workflow.New(wfCfg)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	s := &session{
		runner:   wf,
		out:      os.Stdout,
		showSQL:  *showSQLFlag,
		progress: *progressFlag,
	}

	if question := strings.TrimSpace(strings.Join(flag.Args(), " ")); question != "" {
		_, err := s.ask(ctx, question)
		return err
	}

	fmt.Fprintf(os.Stdout, "Connected to %s. Ask a question, /reset to start over, /quit to exit.\n", src.Dialect())
	return s.repl(ctx, os.Stdin)
}
