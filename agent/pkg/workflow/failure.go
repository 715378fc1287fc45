package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/validator"
)

// Sentinel errors wrapped by collaborator implementations.
var (
	ErrSchemaUnavailable = errors.New("schema unavailable")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrExecutionFailed   = errors.New("execution failed")
)

// FailureKind classifies why a query or turn failed.
type FailureKind string

const (
	FailureUnsafeStatement   FailureKind = FailureKind(validator.KindUnsafeStatement)
	FailureUnknownTable      FailureKind = FailureKind(validator.KindUnknownTable)
	FailureUnknownColumn     FailureKind = FailureKind(validator.KindUnknownColumn)
	FailureAmbiguousColumn   FailureKind = FailureKind(validator.KindAmbiguousColumn)
	FailureExecutionFailed   FailureKind = "execution_failed"
	FailureGenerationFailed  FailureKind = "generation_failed"
	FailureSchemaUnavailable FailureKind = "schema_unavailable"
	FailureRetryExhausted    FailureKind = "retry_exhausted"
	FailureCancelled         FailureKind = "cancelled"
)

// Failure is a typed failure recorded in the conversation state. It is both
// the fix context handed to the generator and the terminal error surfaced
// to the caller.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Keyword    string      `json:"keyword,omitempty"`
	Table      string      `json:"table,omitempty"`
	Column     string      `json:"column,omitempty"`
	Candidates []string    `json:"candidates,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Last       *Failure    `json:"last,omitempty"` // Last concrete reason for FailureRetryExhausted
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureUnsafeStatement, FailureUnknownTable, FailureUnknownColumn, FailureAmbiguousColumn:
		return f.rejection().Error()
	case FailureRetryExhausted:
		if f.Last != nil {
			return fmt.Sprintf("retries exhausted: %s", f.Last.Error())
		}
		return "retries exhausted"
	}
	if f.Detail == "" {
		return strings.ReplaceAll(string(f.Kind), "_", " ")
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(string(f.Kind), "_", " "), f.Detail)
}

func (f *Failure) rejection() *validator.Rejection {
	return &validator.Rejection{
		Kind:       validator.Kind(f.Kind),
		Keyword:    f.Keyword,
		Table:      f.Table,
		Column:     f.Column,
		Candidates: f.Candidates,
		Detail:     f.Detail,
	}
}

// Unwrap exposes the last concrete reason of an exhausted retry loop.
func (f *Failure) Unwrap() error {
	if f.Last == nil {
		return nil
	}
	return f.Last
}

// Is matches the collaborator sentinels so callers can use errors.Is on a
// terminal failure.
func (f *Failure) Is(target error) bool {
	switch target {
	case ErrSchemaUnavailable:
		return f.Kind == FailureSchemaUnavailable
	case ErrGenerationFailed:
		return f.Kind == FailureGenerationFailed
	case ErrExecutionFailed:
		return f.Kind == FailureExecutionFailed
	case context.Canceled:
		return f.Kind == FailureCancelled
	}
	return false
}

// Retryable reports whether the fix loop may act on this failure.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureUnknownTable, FailureUnknownColumn, FailureAmbiguousColumn,
		FailureExecutionFailed, FailureGenerationFailed:
		return true
	}
	return false
}

// Terminal returns the last concrete reason behind f.
func (f *Failure) Terminal() *Failure {
	for f.Kind == FailureRetryExhausted && f.Last != nil {
		f = f.Last
	}
	return f
}

func failureFromRejection(r *validator.Rejection) *Failure {
	return &Failure{
		Kind:       FailureKind(r.Kind),
		Keyword:    r.Keyword,
		Table:      r.Table,
		Column:     r.Column,
		Candidates: r.Candidates,
		Detail:     r.Detail,
	}
}

// newFailure converts a collaborator error into a failure of the given kind.
// A nested *Failure keeps its own classification.
func newFailure(kind FailureKind, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: kind, Detail: failureDetail(err, kind)}
}

// failureDetail strips the sentinel prefix so details don't read
// "execution failed: execution failed: ...".
func failureDetail(err error, kind FailureKind) string {
	msg := err.Error()
	for _, sentinel := range []error{ErrSchemaUnavailable, ErrGenerationFailed, ErrExecutionFailed} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	if errors.Is(err, context.DeadlineExceeded) && !strings.Contains(msg, "deadline") {
		msg += " (timeout)"
	}
	if msg == "" {
		msg = string(kind)
	}
	return msg
}

func retryExhausted(last *Failure) *Failure {
	return &Failure{Kind: FailureRetryExhausted, Last: last}
}
