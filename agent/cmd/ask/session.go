package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

type turnRunner interface {
	RunTurnWithProgress(ctx context.Context, question string, history []workflow.Message, onProgress workflow.ProgressCallback) (*workflow.TurnResult, error)
}

// session is one interactive conversation. History is carried between turns
// exactly as the workflow returned it, so a clarification answer resumes the
// suspended question.
type session struct {
	runner   turnRunner
	out      io.Writer
	showSQL  bool
	progress bool

	history []workflow.Message
}

func (s *session) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			s.history = nil
			fmt.Fprintln(s.out, "Conversation cleared.")
			continue
		}

		if _, err := s.ask(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *session) ask(ctx context.Context, question string) (*workflow.TurnResult, error) {
	var onProgress workflow.ProgressCallback
	if s.progress {
		onProgress = func(p workflow.Progress) {
			line := fmt.Sprintf("  [%s]", p.Stage)
			if p.RetryCount > 0 {
				line += fmt.Sprintf(" attempt %d", p.RetryCount+1)
			}
			if p.Failure != nil && p.Stage == workflow.StageFixing {
				line += ": " + p.Failure.Error()
			}
			if p.Stage == workflow.StageComplete && p.Rows > 0 {
				line += fmt.Sprintf(" %d rows", p.Rows)
			}
			fmt.Fprintln(s.out, line)
		}
	}

	result, err := s.runner.RunTurnWithProgress(ctx, question, s.history, onProgress)
	if err != nil {
		return nil, err
	}
	s.history = result.History
	render(s.out, result, s.showSQL)
	return result, nil
}

func render(w io.Writer, r *workflow.TurnResult, showSQL bool) {
	switch r.Status {
	case workflow.StatusNeedsClarification:
		fmt.Fprintf(w, "%s\n", r.ClarificationQuestion)
		return
	case workflow.StatusFailed:
		fmt.Fprintf(w, "%s\n", r.Summary)
		if r.Error != nil {
			fmt.Fprintf(w, "(failed: %s)\n", r.Error.Error())
		}
	default:
		fmt.Fprintf(w, "%s\n", r.Summary)
	}
	if showSQL && r.Query != "" && !strings.Contains(r.Summary, r.Query) {
		fmt.Fprintf(w, "\n```sql\n%s\n```\n", r.Query)
	}
	if r.RetryCount > 0 {
		fmt.Fprintf(w, "(%d %s)\n", r.RetryCount, plural(r.RetryCount, "retry", "retries"))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
