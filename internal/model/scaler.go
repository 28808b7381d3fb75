package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrInvalidScaler = errors.New("invalid scaler")

const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
)

// Scaler replays a fitted sklearn StandardScaler or MinMaxScaler.
//
// standard: (x - mean) / scale
// minmax:   x * scale + min
type Scaler struct {
	Kind  string    `json:"kind"`
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
	Min   []float64 `json:"min"`
}

func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scaler: %w", err)
	}

	return ParseScaler(data)
}

func ParseScaler(data []byte) (*Scaler, error) {
	s := &Scaler{Kind: ScalerStandard}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScaler, err)
	}

	if len(s.Scale) == 0 {
		return nil, fmt.Errorf("%w: empty scale", ErrInvalidScaler)
	}

	switch s.Kind {
	case ScalerStandard:
		if len(s.Mean) != len(s.Scale) {
			return nil, fmt.Errorf("%w: %d means for %d scales", ErrInvalidScaler, len(s.Mean), len(s.Scale))
		}
	case ScalerMinMax:
		if len(s.Min) != len(s.Scale) {
			return nil, fmt.Errorf("%w: %d minimums for %d scales", ErrInvalidScaler, len(s.Min), len(s.Scale))
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidScaler, s.Kind)
	}

	return s, nil
}

func (s *Scaler) Width() int {
	return len(s.Scale)
}

// Transform returns a scaled copy of x. Callers check the width first.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		switch s.Kind {
		case ScalerMinMax:
			out[i] = v*s.Scale[i] + s.Min[i]
		default:
			scale := s.Scale[i]
			if scale == 0 {
				scale = 1
			}
			out[i] = (v - s.Mean[i]) / scale
		}
	}
	return out
}
