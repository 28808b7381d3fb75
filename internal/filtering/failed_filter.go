package filtering

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/pipeline"
)

type failedFilter struct {
	toggle
	logger *zap.Logger
}

// NewFailed creates a filter that removes documents whose text could not be extracted.
func NewFailed(logger *zap.Logger) Filter {
	return &failedFilter{logger: nopIfNil(logger)}
}

func (f *failedFilter) Name() string { return "failed" }

func (f *failedFilter) Apply(_ context.Context, results []*pipeline.Result) ([]*pipeline.Result, Step, error) {
	kept, step, dropped := exclude(results, (*pipeline.Result).Failed)
	if len(dropped) > 0 {
		f.logger.Info("excluding documents that failed extraction",
			zap.Strings("excluded_documents", dropped),
			zap.Int("documents_left", step.Left),
		)
	}
	return kept, step, nil
}

func (f *failedFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
