package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/pipeline"
)

type categoryFilter struct {
	toggle
	allowed map[categorize.Category]bool
	logger  *zap.Logger
}

// NewCategory creates a filter that keeps only results in the allowed tiers.
func NewCategory(allowed []categorize.Category, logger *zap.Logger) Filter {
	f := &categoryFilter{
		allowed: make(map[categorize.Category]bool, len(allowed)),
		logger:  nopIfNil(logger),
	}
	for _, c := range allowed {
		f.allowed[c] = true
	}
	return f
}

func (f *categoryFilter) Name() string { return "category" }

func (f *categoryFilter) Apply(_ context.Context, results []*pipeline.Result) ([]*pipeline.Result, Step, error) {
	kept, step, dropped := exclude(results, func(r *pipeline.Result) bool {
		return !f.allowed[r.Prediction.Category]
	})
	if len(dropped) > 0 {
		f.logger.Info("excluding documents by category",
			zap.Strings("allowed_categories", f.names()),
			zap.Strings("excluded_documents", dropped),
			zap.Int("documents_left", step.Left),
		)
	}
	return kept, step, nil
}

func (f *categoryFilter) names() []string {
	var names []string
	for _, c := range []categorize.Category{categorize.Red, categorize.Yellow, categorize.Green} {
		if f.allowed[c] {
			names = append(names, c.String())
		}
	}
	return names
}

func (f *categoryFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"allowed": strings.Join(f.names(), ",")},
	}
}
