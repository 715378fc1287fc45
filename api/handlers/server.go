package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

// maxBodyBytes bounds request bodies; history travels with every turn.
const maxBodyBytes = 1 << 20

// TurnRunner runs one conversation turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, question string, history []workflow.Message) (*workflow.TurnResult, error)
}

// Pinger checks connectivity to the data source.
type Pinger interface {
	Ping(ctx context.Context) error
}

// invalidator is implemented by catalogs that cache the described schema.
type invalidator interface {
	Invalidate()
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	log      *slog.Logger
	workflow TurnRunner
	catalog  workflow.SchemaCatalog
	db       Pinger

	shuttingDown atomic.Bool
}

// NewServer creates the handler set.
func NewServer(log *slog.Logger, wf TurnRunner, catalog workflow.SchemaCatalog, db Pinger) (*Server, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("schema catalog is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database pinger is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log, workflow: wf, catalog: catalog, db: db}, nil
}

// MarkShuttingDown makes the readiness probe fail so load balancers drain
// the instance before the listener closes.
func (s *Server) MarkShuttingDown() {
	s.shuttingDown.Store(true)
}
