package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/pipeline"
	"github.com/spigell/hh-screener/internal/profile"
)

type phoneFilter struct {
	toggle
	logger *zap.Logger
}

// NewPhone creates a filter that removes results without a phone; the CRM
// would skip them anyway.
func NewPhone(logger *zap.Logger) Filter {
	return &phoneFilter{logger: nopIfNil(logger)}
}

func (f *phoneFilter) Name() string { return "phone" }

func (f *phoneFilter) Apply(_ context.Context, results []*pipeline.Result) ([]*pipeline.Result, Step, error) {
	kept, step, dropped := exclude(results, func(r *pipeline.Result) bool {
		phone := strings.TrimSpace(r.Profile.Phone)
		return phone == "" || phone == profile.Unknown
	})
	if len(dropped) > 0 {
		f.logger.Info("excluding documents without a phone",
			zap.Strings("excluded_documents", dropped),
			zap.Int("documents_left", step.Left),
		)
	}
	return kept, step, nil
}

func (f *phoneFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
