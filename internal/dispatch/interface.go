package dispatch

import (
	"context"

	"github.com/mattjoyce/runway/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/runway/internal/dispatch Source,Completer,Worker

// Source hands out queued job requests. queue.Queue implements it.
type Source interface {
	Acquire(ctx context.Context, labels []string) (*protocol.JobRequest, error)
}

// Completer accepts finished requests. *orchestrator.Engine implements it.
type Completer interface {
	Complete(ctx context.Context, c protocol.Completion) error
}

// Worker executes one job request.
type Worker interface {
	Run(ctx context.Context, req *protocol.JobRequest) (protocol.Completion, error)
}
