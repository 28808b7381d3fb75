package ai

import (
	"context"
)

// Candidate is what a reviewer sees of a scored resume.
type Candidate struct {
	Document    string
	Position    string
	City        string
	Probability float64
	Text        string
}

// Assessment is a second opinion on a candidate. It is advisory only.
type Assessment struct {
	Fit    bool    `json:"fit"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
	Raw    string  `json:"raw,omitempty"`
	Error  string  `json:"error,omitempty"`
}

type Reviewer interface {
	Review(ctx context.Context, candidate Candidate) (*Assessment, error)
}
