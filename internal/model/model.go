// Package model loads the trained artifacts and turns feature vectors into
// class 1 probabilities.
package model

import (
	"fmt"
	"path/filepath"

	"github.com/spigell/hh-screener/internal/features"
	"github.com/spigell/hh-screener/internal/normalize"
)

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	scaler *Scaler
	trees  *Trees
}

func NewClassifier(scaler *Scaler, trees *Trees) (*Classifier, error) {
	if trees.Features() > scaler.Width() {
		return nil, fmt.Errorf("%w: model reads %d features, scaler has %d",
			features.ErrWidthMismatch, trees.Features(), scaler.Width())
	}

	return &Classifier{scaler: scaler, trees: trees}, nil
}

// Width is the vector length Probability accepts.
func (c *Classifier) Width() int {
	return c.scaler.Width()
}

func (c *Classifier) Probability(vec []float64) (float64, error) {
	if len(vec) != c.Width() {
		return 0, fmt.Errorf("%w: got %d features, expected %d", features.ErrWidthMismatch, len(vec), c.Width())
	}

	return c.trees.Probability(c.scaler.Transform(vec)), nil
}

// Paths points at the exported training artifacts.
type Paths struct {
	Model      string `mapstructure:"model"`
	Scaler     string `mapstructure:"scaler"`
	Vectorizer string `mapstructure:"vectorizer"`
	Lemmas     string `mapstructure:"lemmas"`
}

// PathsIn returns the default artifact file names inside dir.
func PathsIn(dir string) Paths {
	return Paths{
		Model:      filepath.Join(dir, "catboost_model.json"),
		Scaler:     filepath.Join(dir, "scaler.json"),
		Vectorizer: filepath.Join(dir, "tfidf_vectorizer.json"),
	}
}

type Artifacts struct {
	Classifier *Classifier
	Vectorizer *features.Vectorizer
	// Lemmas is nil when no dictionary is configured.
	Lemmas *normalize.Dictionary
}

// LoadArtifacts reads every artifact once. A failure here is fatal for the process.
func LoadArtifacts(p Paths) (*Artifacts, error) {
	trees, err := LoadTrees(p.Model)
	if err != nil {
		return nil, err
	}

	scaler, err := LoadScaler(p.Scaler)
	if err != nil {
		return nil, err
	}

	classifier, err := NewClassifier(scaler, trees)
	if err != nil {
		return nil, err
	}

	vectorizer, err := features.LoadVectorizer(p.Vectorizer)
	if err != nil {
		return nil, err
	}

	a := &Artifacts{Classifier: classifier, Vectorizer: vectorizer}

	if p.Lemmas != "" {
		if a.Lemmas, err = normalize.LoadDictionary(p.Lemmas); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Lemmatizer returns the dictionary as a normalize.Lemmatizer, or nil when absent.
func (a *Artifacts) Lemmatizer() normalize.Lemmatizer {
	if a.Lemmas == nil {
		return nil
	}
	return a.Lemmas
}

// CheckWidth verifies the extractor produces vectors the classifier accepts.
func (a *Artifacts) CheckWidth(e *features.Extractor) error {
	if e.Width() != a.Classifier.Width() {
		return fmt.Errorf("%w: extractor builds %d features, classifier expects %d",
			features.ErrWidthMismatch, e.Width(), a.Classifier.Width())
	}
	return nil
}
