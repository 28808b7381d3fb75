package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/hh-screener/internal/ai"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/profile"
)

const failurePrefix = "Ошибка обработки файла: "

// Result is everything the screener knows about one document.
type Result struct {
	Document   string                `json:"document"`
	Profile    profile.Info          `json:"profile"`
	Prediction categorize.Prediction `json:"prediction"`
	Text       string                `json:"text,omitempty"`
	Error      string                `json:"error,omitempty"`
	Review     *ai.Assessment        `json:"review,omitempty"`
	ContactID  int                   `json:"contact_id,omitempty"`
}

// Failed reports whether text extraction failed for the document.
func (r *Result) Failed() bool {
	return r.Error != ""
}

func (r *Result) Synced() bool {
	return r.ContactID != 0
}

func failedResult(name string, err error, t categorize.Thresholds) *Result {
	return &Result{
		Document: name,
		Profile:  profile.Empty(),
		Prediction: categorize.Prediction{
			Probability: 0,
			Category:    t.Category(0),
			Class:       t.Class(0),
			Comment:     failurePrefix + err.Error(),
		},
		Error: err.Error(),
	}
}

// Session is the ordered result set of one screening run.
type Session struct {
	ID         string                `json:"id"`
	CreatedAt  time.Time             `json:"created_at"`
	Thresholds categorize.Thresholds `json:"thresholds"`
	Results    []*Result             `json:"results"`
}

func NewSession(t categorize.Thresholds) *Session {
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Thresholds: t,
	}
}

func (s *Session) Add(r *Result) {
	s.Results = append(s.Results, r)
}

func (s *Session) Len() int {
	return len(s.Results)
}

func (s *Session) Find(document string) *Result {
	for _, r := range s.Results {
		if r.Document == document {
			return r
		}
	}
	return nil
}

// Rescore recomputes category and comment from the stored text and
// probability. Failed documents keep their failure comment.
func (s *Session) Rescore(c *categorize.Categorizer) {
	t := c.Thresholds()
	s.Thresholds = t

	for _, r := range s.Results {
		if r.Failed() {
			r.Prediction.Category = t.Category(r.Prediction.Probability)
			r.Prediction.Class = t.Class(r.Prediction.Probability)
			continue
		}
		r.Prediction = c.Predict(r.Text, r.Prediction.Probability)
	}
}

// Counts returns the number of results per category.
func (s *Session) Counts() map[categorize.Category]int {
	counts := make(map[categorize.Category]int, 3)
	for _, r := range s.Results {
		counts[r.Prediction.Category]++
	}
	return counts
}

func (s *Session) Failures() int {
	n := 0
	for _, r := range s.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

func (s *Session) ByCategory(c categorize.Category) []*Result {
	var results []*Result
	for _, r := range s.Results {
		if r.Prediction.Category == c {
			results = append(results, r)
		}
	}
	return results
}

// ReportByCategory groups results under their Russian category label.
func (s *Session) ReportByCategory() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, r := range s.Results {
		key := fmt.Sprintf("%s (%s)", r.Prediction.Category.Label(), r.Prediction.Category)
		report[key] = append(report[key], map[string]string{
			"document":    r.Document,
			"probability": fmt.Sprintf("%.2f", r.Prediction.Probability),
			"position":    r.Profile.Position,
			"city":        r.Profile.City,
			"phone":       r.Profile.Phone,
			"comment":     r.Prediction.Comment,
		})
	}
	return report
}

func (s *Session) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "screening_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return file.Name(), nil
}
