package filtering

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/pipeline"
)

// SyncedSource lists documents already pushed to the CRM.
type SyncedSource interface {
	SyncedDocuments(ctx context.Context) (map[string]int, error)
}

type syncedFilter struct {
	toggle
	source SyncedSource
	logger *zap.Logger
}

// NewSynced creates a filter that removes documents synced in this or any earlier session.
func NewSynced(source SyncedSource, logger *zap.Logger) Filter {
	return &syncedFilter{source: source, logger: nopIfNil(logger)}
}

func (f *syncedFilter) Name() string { return "already_synced" }

func (f *syncedFilter) Apply(ctx context.Context, results []*pipeline.Result) ([]*pipeline.Result, Step, error) {
	synced := map[string]int{}
	if f.source != nil {
		var err error
		if synced, err = f.source.SyncedDocuments(ctx); err != nil {
			return nil, Step{}, fmt.Errorf("getting synced documents: %w", err)
		}
	}

	kept, step, dropped := exclude(results, func(r *pipeline.Result) bool {
		_, ok := synced[r.Document]
		return ok || r.Synced()
	})
	if len(dropped) > 0 {
		f.logger.Info("excluding documents already in the CRM",
			zap.Strings("excluded_documents", dropped),
			zap.Int("documents_left", step.Left),
		)
	}
	return kept, step, nil
}

func (f *syncedFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"exclude_synced": strconv.FormatBool(f.IsEnabled())},
	}
}
