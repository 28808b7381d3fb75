// Package rules holds the keyword and pattern tables used to normalize resumes,
// count manual features and write candidate comments.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

var ErrInvalidRules = errors.New("invalid rules")

type Set struct {
	Stopwords  Stopwords   `yaml:"stopwords"`
	Sections   []Section   `yaml:"sections"`
	Features   []Category  `yaml:"features"`
	RedFlags   []Domain    `yaml:"red_flags"`
	PhoneSales []string    `yaml:"phone_sales"`
	Skills     []SkillRule `yaml:"skills"`
	Cities     []string    `yaml:"cities"`
}

type Stopwords struct {
	Base  []string `yaml:"base"`
	Keep  []string `yaml:"keep"`
	Extra []string `yaml:"extra"`
}

// Section is a structural resume header replaced by a placeholder tag.
type Section struct {
	Pattern string `yaml:"pattern"`
	Tag     string `yaml:"tag"`
}

// Category is a named group of regular expressions counted as one manual feature.
type Category struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// Domain is an undesirable experience area detected by substring keywords.
type Domain struct {
	Domain   string   `yaml:"domain"`
	Keywords []string `yaml:"keywords"`
}

type SkillRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Default returns the embedded rule set.
func Default() (*Set, error) {
	return Parse(defaultRules)
}

// Load reads a rule set from path. An empty path means the embedded defaults.
func Load(path string) (*Set, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %q: %w", path, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	if err := set.validate(); err != nil {
		return nil, err
	}

	return &set, nil
}

func (s *Set) validate() error {
	if len(s.Stopwords.Base) == 0 {
		return fmt.Errorf("%w: stopwords.base is empty", ErrInvalidRules)
	}

	if len(s.Features) == 0 {
		return fmt.Errorf("%w: no feature categories", ErrInvalidRules)
	}

	seen := make(map[string]struct{}, len(s.Features))
	for i := range s.Features {
		c := &s.Features[i]
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: feature category #%d has no name", ErrInvalidRules, i)
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("%w: duplicate feature category %q", ErrInvalidRules, c.Name)
		}
		seen[c.Name] = struct{}{}

		if len(c.Patterns) == 0 {
			return fmt.Errorf("%w: feature category %q has no patterns", ErrInvalidRules, c.Name)
		}

		c.compiled = make([]*regexp.Regexp, 0, len(c.Patterns))
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("%w: feature category %q pattern %q: %v", ErrInvalidRules, c.Name, p, err)
			}
			c.compiled = append(c.compiled, re)
		}
	}

	for _, sec := range s.Sections {
		if sec.Pattern == "" || sec.Tag == "" {
			return fmt.Errorf("%w: section entries need both pattern and tag", ErrInvalidRules)
		}
	}

	// Keywords are matched against lowercased text.
	for i := range s.RedFlags {
		d := &s.RedFlags[i]
		if d.Domain == "" || len(d.Keywords) == 0 {
			return fmt.Errorf("%w: red flag domain %q has no keywords", ErrInvalidRules, d.Domain)
		}
		lowerAll(d.Keywords)
	}

	for i := range s.Skills {
		sk := &s.Skills[i]
		if sk.Name == "" || len(sk.Keywords) == 0 {
			return fmt.Errorf("%w: skill %q has no keywords", ErrInvalidRules, sk.Name)
		}
		lowerAll(sk.Keywords)
	}

	if len(s.PhoneSales) == 0 {
		return fmt.Errorf("%w: phone_sales indicators are empty", ErrInvalidRules)
	}
	lowerAll(s.PhoneSales)

	return nil
}

// StopwordSet returns base minus keep plus extra, lowercased.
func (s *Set) StopwordSet() map[string]struct{} {
	stops := make(map[string]struct{}, len(s.Stopwords.Base)+len(s.Stopwords.Extra))
	for _, w := range s.Stopwords.Base {
		stops[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range s.Stopwords.Keep {
		delete(stops, strings.ToLower(w))
	}
	for _, w := range s.Stopwords.Extra {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return stops
}

// Count returns how many of the category patterns match text.
func (c *Category) Count(text string) int {
	n := 0
	for _, re := range c.compiled {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// Matches reports whether any keyword is a substring of the lowercased text.
func (d Domain) Matches(lower string) bool {
	return containsAny(lower, d.Keywords)
}

func (sk SkillRule) Matches(lower string) bool {
	return containsAny(lower, sk.Keywords)
}

// HasPhoneSales reports whether the lowercased text mentions phone sales experience.
func (s *Set) HasPhoneSales(lower string) bool {
	return containsAny(lower, s.PhoneSales)
}

func lowerAll(words []string) {
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
