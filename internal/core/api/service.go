package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/solatis/gears/internal/core/db"
	"github.com/solatis/gears/internal/reload"
	"github.com/solatis/gears/internal/rules"
)

// TableSource exposes the active rule table. *rules.Engine implements it.
type TableSource interface {
	Table() *rules.Table
}

// RuleReloader reloads rules on demand. *reload.Loader implements it.
type RuleReloader interface {
	Reload(ctx context.Context) error
	Last() *reload.Snapshot
}

// RunLister lists recorded rule runs. *db.RunLog implements it.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]db.Run, error)
	ForDelivery(ctx context.Context, deliveryID string, limit int) ([]db.Run, error)
}

// AdminService implements AdminServer.
// Thin orchestration layer over the engine, the loader and the run log.
type AdminService struct {
	tables   TableSource
	reloader RuleReloader
	runs     RunLister
	logger   *zap.Logger
}

// NewAdminService creates service instance with dependencies. runs may be nil
// when the run log is disabled.
func NewAdminService(tables TableSource, reloader RuleReloader, runs RunLister, logger *zap.Logger) (*AdminService, error) {
	if tables == nil {
		return nil, fmt.Errorf("tables cannot be nil")
	}
	if reloader == nil {
		return nil, fmt.Errorf("reloader cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		tables:   tables,
		reloader: reloader,
		runs:     runs,
		logger:   logger.Named("admin"),
	}, nil
}
