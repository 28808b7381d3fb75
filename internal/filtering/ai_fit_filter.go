package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/pipeline"
)

type aiFitFilter struct {
	toggle
	minScore float64
	logger   *zap.Logger
}

// NewAIFit creates a filter that removes results the AI review rejected.
// Results without a review, or whose review failed, are kept.
func NewAIFit(minScore float64, logger *zap.Logger) Filter {
	return &aiFitFilter{minScore: minScore, logger: nopIfNil(logger)}
}

func (f *aiFitFilter) Name() string { return "ai_fit" }

func (f *aiFitFilter) Apply(_ context.Context, results []*pipeline.Result) ([]*pipeline.Result, Step, error) {
	kept, step, _ := exclude(results, func(r *pipeline.Result) bool {
		review := r.Review
		if review == nil || review.Error != "" {
			return false
		}
		if review.Fit && review.Score >= f.minScore {
			return false
		}

		f.logger.Info("document rejected by AI review",
			zap.String("document", r.Document),
			zap.Float64("ai_score", review.Score),
			zap.String("reason", review.Reason),
		)
		return true
	})
	return kept, step, nil
}

func (f *aiFitFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"minimum_fit_score": fmt.Sprintf("%.2f", f.minScore)},
	}
}
