package filtering

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/pipeline"
)

type redFlagFilter struct {
	toggle
	logger *zap.Logger
}

// NewRedFlag creates a filter that removes results with a red-flag domain in the resume.
func NewRedFlag(logger *zap.Logger) Filter {
	return &redFlagFilter{logger: nopIfNil(logger)}
}

func (f *redFlagFilter) Name() string { return "red_flag" }

func (f *redFlagFilter) Apply(_ context.Context, results []*pipeline.Result) ([]*pipeline.Result, Step, error) {
	kept, step, dropped := exclude(results, func(r *pipeline.Result) bool {
		return r.Prediction.RedFlag
	})
	if len(dropped) > 0 {
		f.logger.Info("excluding documents with red flags",
			zap.Strings("excluded_documents", dropped),
			zap.Int("documents_left", step.Left),
		)
	}
	return kept, step, nil
}

func (f *redFlagFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
