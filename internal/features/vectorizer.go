package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
)

var ErrInvalidVectorizer = errors.New("invalid tf-idf vectorizer")

// Same tokens as the default sklearn pattern (?u)\b\w\w+\b.
var termRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer reproduces a fitted sklearn TfidfVectorizer exported to JSON.
// Norm is nil when the vectorizer was fitted with norm=None.
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	Norm        *string        `json:"norm"`
	SublinearTF bool           `json:"sublinear_tf"`
	NgramRange  [2]int         `json:"ngram_range"`
	Lowercase   bool           `json:"lowercase"`
}

func LoadVectorizer(path string) (*Vectorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vectorizer: %w", err)
	}

	return ParseVectorizer(data)
}

func ParseVectorizer(data []byte) (*Vectorizer, error) {
	l2 := "l2"
	v := &Vectorizer{Norm: &l2, NgramRange: [2]int{1, 1}, Lowercase: true}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVectorizer, err)
	}

	if err := v.validate(); err != nil {
		return nil, err
	}

	return v, nil
}

func (v *Vectorizer) validate() error {
	if len(v.Vocabulary) == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrInvalidVectorizer)
	}
	if len(v.IDF) != len(v.Vocabulary) {
		return fmt.Errorf("%w: %d idf weights for %d terms", ErrInvalidVectorizer, len(v.IDF), len(v.Vocabulary))
	}

	seen := make([]bool, len(v.IDF))
	for term, idx := range v.Vocabulary {
		if idx < 0 || idx >= len(v.IDF) || seen[idx] {
			return fmt.Errorf("%w: bad index %d for term %q", ErrInvalidVectorizer, idx, term)
		}
		seen[idx] = true
	}

	switch norm := v.norm(); norm {
	case "l1", "l2", "":
	default:
		return fmt.Errorf("%w: unknown norm %q", ErrInvalidVectorizer, norm)
	}

	if v.NgramRange[0] < 1 || v.NgramRange[1] < v.NgramRange[0] {
		return fmt.Errorf("%w: bad ngram range %v", ErrInvalidVectorizer, v.NgramRange)
	}

	return nil
}

func (v *Vectorizer) norm() string {
	if v.Norm == nil {
		return ""
	}
	return *v.Norm
}

// Size is the number of term weights Transform returns.
func (v *Vectorizer) Size() int {
	return len(v.IDF)
}

// Transform returns the tf-idf weights of text in vocabulary index order.
func (v *Vectorizer) Transform(text string) []float64 {
	if v.Lowercase {
		text = strings.ToLower(text)
	}

	counts := make(map[int]float64)
	tokens := termRe.FindAllString(text, -1)
	for n := v.NgramRange[0]; n <= v.NgramRange[1]; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if idx, ok := v.Vocabulary[strings.Join(tokens[i:i+n], " ")]; ok {
				counts[idx]++
			}
		}
	}

	out := make([]float64, len(v.IDF))
	for idx, tf := range counts {
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		out[idx] = tf * v.IDF[idx]
	}

	normalize(out, v.norm())

	return out
}

func normalize(vec []float64, norm string) {
	var total float64
	switch norm {
	case "l2":
		for _, x := range vec {
			total += x * x
		}
		total = math.Sqrt(total)
	case "l1":
		for _, x := range vec {
			total += math.Abs(x)
		}
	default:
		return
	}

	if total == 0 {
		return
	}
	for i := range vec {
		vec[i] /= total
	}
}
