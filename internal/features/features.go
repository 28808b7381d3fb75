// Package features builds the numeric vector the classifier scores: manual
// keyword counts, structured resume facts and tf-idf term weights, in that order.
package features

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spigell/hh-screener/internal/profile"
	"github.com/spigell/hh-screener/internal/rules"
)

var ErrWidthMismatch = errors.New("feature width mismatch")

// StructuredNames lists the structured features in vector order.
var StructuredNames = []string{
	"gender", "age", "salary", "student", "wants_sales_position", "text_length", "num_digits",
}

var studentMarkers = []string{"студент", "учусь", "очная"}

// Structured holds the facts taken from the raw resume text.
type Structured struct {
	Gender             float64
	Age                float64
	Salary             float64
	Student            float64
	WantsSalesPosition float64
	TextLength         float64
	NumDigits          float64
}

func (s Structured) values() []float64 {
	return []float64{s.Gender, s.Age, s.Salary, s.Student, s.WantsSalesPosition, s.TextLength, s.NumDigits}
}

// ExtractStructured never fails: every feature falls back on its own.
func ExtractStructured(raw string) Structured {
	clean := strings.NewReplacer("\n", " ", "\r", " ").Replace(strings.ToLower(raw))

	s := Structured{Age: -1, Salary: -1}

	switch profile.Gender(clean) {
	case profile.GenderFemale:
		s.Gender = 1
	case profile.GenderMale:
		s.Gender = -1
	}

	if age, err := strconv.Atoi(profile.Age(clean)); err == nil {
		s.Age = float64(age)
	}
	if salary, err := strconv.Atoi(profile.Salary(clean)); err == nil {
		s.Salary = float64(salary)
	}

	for _, m := range studentMarkers {
		if strings.Contains(clean, m) {
			s.Student = 1
			break
		}
	}

	if strings.Contains(clean, "продаж") {
		s.WantsSalesPosition = 1
	}

	s.TextLength = float64(utf8.RuneCountInString(clean))
	for _, r := range clean {
		if unicode.IsDigit(r) {
			s.NumDigits++
		}
	}

	return s
}

type Extractor struct {
	categories []rules.Category
	vectorizer *Vectorizer
}

func NewExtractor(set *rules.Set, v *Vectorizer) *Extractor {
	return &Extractor{categories: set.Features, vectorizer: v}
}

// Width is the length of every vector Extract returns.
func (e *Extractor) Width() int {
	return len(e.categories) + len(StructuredNames) + e.vectorizer.Size()
}

// Names returns the feature names in vector order; terms are prefixed with "tfidf:".
func (e *Extractor) Names() []string {
	names := make([]string, 0, e.Width())
	for _, c := range e.categories {
		names = append(names, c.Name)
	}
	names = append(names, StructuredNames...)

	terms := make([]string, e.vectorizer.Size())
	for term, idx := range e.vectorizer.Vocabulary {
		terms[idx] = "tfidf:" + term
	}

	return append(names, terms...)
}

// Manual counts the matching patterns of every category in the normalized text.
func (e *Extractor) Manual(normalized string) []float64 {
	lower := strings.ToLower(normalized)
	out := make([]float64, len(e.categories))
	for i := range e.categories {
		out[i] = float64(e.categories[i].Count(lower))
	}
	return out
}

// Extract concatenates manual, structured and term features. raw is the
// extracted resume text and normalized the space-joined normalizer output.
func (e *Extractor) Extract(raw, normalized string) ([]float64, error) {
	vec := make([]float64, 0, e.Width())
	vec = append(vec, e.Manual(normalized)...)
	vec = append(vec, ExtractStructured(raw).values()...)
	vec = append(vec, e.vectorizer.Transform(normalized)...)

	if len(vec) != e.Width() {
		return nil, fmt.Errorf("%w: built %d features, expected %d", ErrWidthMismatch, len(vec), e.Width())
	}

	return vec, nil
}
