// Package pipeline runs each document through extraction, scoring and categorization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/ai"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/document"
	"github.com/spigell/hh-screener/internal/features"
	"github.com/spigell/hh-screener/internal/logger"
	"github.com/spigell/hh-screener/internal/metrics"
	"github.com/spigell/hh-screener/internal/model"
	"github.com/spigell/hh-screener/internal/normalize"
	"github.com/spigell/hh-screener/internal/profile"
)

type Deps struct {
	Normalizer  *normalize.Normalizer
	Parser      *profile.Parser
	Extractor   *features.Extractor
	Classifier  *model.Classifier
	Categorizer *categorize.Categorizer
	// Reviewer is optional; when set it sees Yellow results only.
	Reviewer ai.Reviewer
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Pipeline struct {
	normalizer  *normalize.Normalizer
	parser      *profile.Parser
	extractor   *features.Extractor
	classifier  *model.Classifier
	categorizer *categorize.Categorizer
	reviewer    ai.Reviewer
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case d.Extractor == nil:
		return nil, errors.New("feature extractor is required")
	case d.Classifier == nil:
		return nil, errors.New("classifier is required")
	case d.Categorizer == nil:
		return nil, errors.New("categorizer is required")
	}

	if d.Extractor.Width() != d.Classifier.Width() {
		return nil, fmt.Errorf("%w: extractor builds %d features, classifier expects %d",
			features.ErrWidthMismatch, d.Extractor.Width(), d.Classifier.Width())
	}

	if d.Parser == nil {
		d.Parser = profile.NewParser(nil)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	return &Pipeline{
		normalizer:  d.Normalizer,
		parser:      d.Parser,
		extractor:   d.Extractor,
		classifier:  d.Classifier,
		categorizer: d.Categorizer,
		reviewer:    d.Reviewer,
		metrics:     d.Metrics,
		logger:      d.Logger,
	}, nil
}

// Run processes docs in order into the session. Extraction failures become
// failed results; a width mismatch or a cancelled context stops the run.
func (p *Pipeline) Run(ctx context.Context, session *Session, docs []document.Document) error {
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, err := p.Process(ctx, session.ID, doc)
		if err != nil {
			return err
		}
		session.Add(r)
	}

	counts := session.Counts()
	p.logger.Info("documents processed",
		zap.String(logger.FieldSession, session.ID),
		zap.Int("total", session.Len()),
		zap.Int("green", counts[categorize.Green]),
		zap.Int("yellow", counts[categorize.Yellow]),
		zap.Int("red", counts[categorize.Red]),
		zap.Int("failed", session.Failures()),
	)

	return nil
}

// Process scores a single document. The error is non-nil only when the
// artifacts disagree on the feature width.
func (p *Pipeline) Process(ctx context.Context, sessionID string, doc document.Document) (*Result, error) {
	start := time.Now()
	log := logger.WithDocument(p.logger, sessionID, doc.Name)

	raw, err := document.Text(doc)
	if err != nil {
		log.Warn("text extraction failed", zap.Error(err))
		p.metrics.ExtractionFailed()
		return failedResult(doc.Name, err, p.categorizer.Thresholds()), nil
	}

	info := p.parser.Parse(raw)
	normalized := p.normalizer.Join(raw)

	vec, err := p.extractor.Extract(raw, normalized)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Name, err)
	}

	probability, err := p.classifier.Probability(vec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Name, err)
	}

	prediction := p.categorizer.Predict(raw, probability)

	r := &Result{
		Document:   doc.Name,
		Profile:    info,
		Prediction: prediction,
		Text:       raw,
	}

	if prediction.Category == categorize.Yellow {
		r.Review = p.review(ctx, log, r)
	}

	p.metrics.ObserveDocument(prediction.Category.String(), probability, time.Since(start))

	log.Info("document scored",
		zap.Float64("probability", probability),
		zap.Stringer("category", prediction.Category),
		zap.Bool("red_flag", prediction.RedFlag),
	)
	log.Debug("document details",
		zap.Any("profile", info),
		zap.Int("normalized_length", len(normalized)),
		zap.String("comment", prediction.Comment),
	)

	return r, nil
}

func (p *Pipeline) review(ctx context.Context, log *zap.Logger, r *Result) *ai.Assessment {
	if p.reviewer == nil {
		return nil
	}

	assessment, err := p.reviewer.Review(ctx, ai.Candidate{
		Document:    r.Document,
		Position:    known(r.Profile.Position),
		City:        known(r.Profile.City),
		Probability: r.Prediction.Probability,
		Text:        r.Text,
	})
	if err != nil {
		log.Warn("ai review failed", zap.Error(err))
		p.metrics.AIReview("error")
		return &ai.Assessment{Error: err.Error()}
	}

	result := "unfit"
	if assessment.Fit {
		result = "fit"
	}
	p.metrics.AIReview(result)

	log.Info("ai review",
		zap.Bool("fit", assessment.Fit),
		zap.Float64("score", assessment.Score),
		zap.String("reason", assessment.Reason),
	)

	return assessment
}

func known(s string) string {
	if s == profile.Unknown {
		return ""
	}
	return s
}
