package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/ai"
	"github.com/spigell/hh-screener/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	maxResumeRunes      = 8000
	noVacancy           = "not specified; judge general fitness for a sales role"
)

// Reviewer asks Gemini for a second opinion on a single candidate.
type Reviewer struct {
	generator contentGenerator
	vacancy   string
	minScore  float64
	maxLogLen int
	logger    *zap.Logger
}

func NewReviewer(generator contentGenerator, vacancy string, minScore float64, maxLogLength int, logger *zap.Logger) *Reviewer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reviewer{
		generator: generator,
		vacancy:   vacancy,
		minScore:  minScore,
		maxLogLen: maxLogLength,
		logger:    logger,
	}
}

func (r *Reviewer) Review(ctx context.Context, candidate ai.Candidate) (*ai.Assessment, error) {
	if strings.TrimSpace(candidate.Text) == "" {
		return nil, errors.New("candidate text is required")
	}

	system := buildPrompt(r.vacancy)
	message := buildMessage(candidate)

	log := r.logger.With(zap.String("document", candidate.Document))

	log.Debug("gemini review request",
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, r.maxLogLen)),
	)

	raw, err := r.generator.GenerateContent(ctx, system, message)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini review response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, r.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	if r.minScore > 0 && assessment.Score < r.minScore {
		log.Debug("set fit to false by score threshold",
			zap.Float64("score", assessment.Score),
			zap.Float64("threshold", r.minScore),
		)
		assessment.Fit = false
	}

	assessment.Raw = raw
	return assessment, nil
}

func buildPrompt(vacancy string) string {
	vacancy = strings.TrimSpace(vacancy)
	if vacancy == "" {
		vacancy = noVacancy
	}

	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Vacancy:\n{{VACANCY}}\n\nJSON Response:"
	}
	return strings.ReplaceAll(template, "{{VACANCY}}", vacancy)
}

func buildMessage(c ai.Candidate) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Document: %s\n", c.Document)
	if c.Position != "" {
		fmt.Fprintf(&b, "Desired position: %s\n", c.Position)
	}
	if c.City != "" {
		fmt.Fprintf(&b, "City: %s\n", c.City)
	}
	fmt.Fprintf(&b, "Model probability: %.2f\n\n", c.Probability)
	b.WriteString("Resume:\n")
	b.WriteString(utils.TruncateForLog(c.Text, maxResumeRunes))

	return b.String()
}

func parseResponse(raw string) (*ai.Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		score = 0
	}

	return &ai.Assessment{
		Fit:    coerceBool(data["fit"]),
		Score:  score,
		Reason: coerceString(data["reason"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes" || lower == "да"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		trimmed := strings.ReplaceAll(strings.TrimSpace(val), ",", ".")
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
