package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

var ErrInvalidModel = errors.New("invalid catboost model")

// Trees is a CatBoost binary classifier exported with save_model(format="json").
// Only float features and oblivious trees are supported.
type Trees struct {
	trees    []obliviousTree
	scale    float64
	bias     float64
	features int
}

type obliviousTree struct {
	splits []split
	leaves []float64
}

type split struct {
	feature int
	border  float64
}

type catboostJSON struct {
	FeaturesInfo struct {
		FloatFeatures []struct {
			FeatureIndex int `json:"feature_index"`
		} `json:"float_features"`
	} `json:"features_info"`
	ObliviousTrees []struct {
		LeafValues []float64 `json:"leaf_values"`
		Splits     []struct {
			Border            float64 `json:"border"`
			FloatFeatureIndex int     `json:"float_feature_index"`
			SplitType         string  `json:"split_type"`
		} `json:"splits"`
	} `json:"oblivious_trees"`
	ScaleAndBias []json.RawMessage `json:"scale_and_bias"`
}

func LoadTrees(path string) (*Trees, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}

	return ParseTrees(data)
}

func ParseTrees(data []byte) (*Trees, error) {
	var raw catboostJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	if len(raw.ObliviousTrees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrInvalidModel)
	}

	m := &Trees{scale: 1}
	if err := m.parseScaleAndBias(raw.ScaleAndBias); err != nil {
		return nil, err
	}

	for _, f := range raw.FeaturesInfo.FloatFeatures {
		m.features = max(m.features, f.FeatureIndex+1)
	}

	for i, t := range raw.ObliviousTrees {
		if len(t.LeafValues) != 1<<len(t.Splits) {
			return nil, fmt.Errorf("%w: tree %d has %d leaves for depth %d", ErrInvalidModel, i, len(t.LeafValues), len(t.Splits))
		}

		tree := obliviousTree{leaves: t.LeafValues}
		for _, s := range t.Splits {
			if s.SplitType != "" && s.SplitType != "FloatFeature" {
				return nil, fmt.Errorf("%w: tree %d uses unsupported split %q", ErrInvalidModel, i, s.SplitType)
			}
			if s.FloatFeatureIndex < 0 {
				return nil, fmt.Errorf("%w: tree %d has a negative feature index", ErrInvalidModel, i)
			}
			tree.splits = append(tree.splits, split{feature: s.FloatFeatureIndex, border: s.Border})
			m.features = max(m.features, s.FloatFeatureIndex+1)
		}

		m.trees = append(m.trees, tree)
	}

	return m, nil
}

// scale_and_bias is [scale, bias] in old exports and [scale, [bias]] in new ones.
func (m *Trees) parseScaleAndBias(raw []json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) != 2 {
		return fmt.Errorf("%w: scale_and_bias must have two elements", ErrInvalidModel)
	}

	if err := json.Unmarshal(raw[0], &m.scale); err != nil {
		return fmt.Errorf("%w: scale: %v", ErrInvalidModel, err)
	}

	if err := json.Unmarshal(raw[1], &m.bias); err == nil {
		return nil
	}

	var biases []float64
	if err := json.Unmarshal(raw[1], &biases); err != nil {
		return fmt.Errorf("%w: bias: %v", ErrInvalidModel, err)
	}
	if len(biases) > 1 {
		return fmt.Errorf("%w: multiclass models are not supported", ErrInvalidModel)
	}
	if len(biases) == 1 {
		m.bias = biases[0]
	}

	return nil
}

// Features is the number of input columns the trees read.
func (m *Trees) Features() int {
	return m.features
}

// Raw returns the scaled sum of leaf values (the log-odds of class 1).
func (m *Trees) Raw(x []float64) float64 {
	var sum float64
	for _, t := range m.trees {
		idx := 0
		for depth, s := range t.splits {
			if x[s.feature] > s.border {
				idx |= 1 << depth
			}
		}
		sum += t.leaves[idx]
	}

	return m.scale*sum + m.bias
}

// Probability is the sigmoid of Raw.
func (m *Trees) Probability(x []float64) float64 {
	return 1 / (1 + math.Exp(-m.Raw(x)))
}
