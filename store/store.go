// Package store defines the storage interface and implementations.
package store

import (
	"context"
	"errors"

	"github.com/dealdesk/dealdesk/domain"
)

// ErrRunTerminal is returned when an update targets a run that already
// reached a terminal status.
var ErrRunTerminal = errors.New("run already in terminal status")

// Store defines the interface for data persistence.
type Store interface {
	// Deal operations
	CreateDeal(ctx context.Context, deal *domain.Deal) error
	GetDeal(ctx context.Context, dealID string) (*domain.Deal, error)
	GetOrCreateDeal(ctx context.Context, dealID, name string) (*domain.Deal, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetRunMessages(ctx context.Context, runID string) ([]domain.Message, error)

	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, output *domain.RunOutput, errMsg string) error
	ListRuns(ctx context.Context, dealID string, agentType domain.AgentType, page, pageSize int) ([]domain.Run, int, error)

	// Lifecycle
	Close() error
}
