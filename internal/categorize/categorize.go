// Package categorize maps a class 1 probability onto the recruiter-facing
// tiers and writes the explanatory comment.
package categorize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/hh-screener/internal/rules"
)

var ErrInvalidThresholds = errors.New("invalid thresholds")

type Category int

const (
	Red Category = iota
	Yellow
	Green
)

var categoryNames = map[Category]string{
	Red:    "red",
	Yellow: "yellow",
	Green:  "green",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Label is the Russian tier name shown in reports.
func (c Category) Label() string {
	switch c {
	case Red:
		return "Не подходит"
	case Green:
		return "Подходит"
	default:
		return "Требует проверки"
	}
}

func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Thresholds struct {
	// Below Reject a candidate is Red; Reject is also the class 1 cut-off.
	Reject float64 `mapstructure:"reject" json:"reject"`
	// At or above Accept a candidate is Green.
	Accept float64 `mapstructure:"accept" json:"accept"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Reject: 0.19, Accept: 0.81}
}

func (t Thresholds) Validate() error {
	if t.Reject < 0 || t.Accept > 1 || t.Reject >= t.Accept {
		return fmt.Errorf("%w: need 0 <= reject < accept <= 1, got reject=%v accept=%v", ErrInvalidThresholds, t.Reject, t.Accept)
	}
	return nil
}

func (t Thresholds) Category(p float64) Category {
	switch {
	case p < t.Reject:
		return Red
	case p < t.Accept:
		return Yellow
	default:
		return Green
	}
}

func (t Thresholds) Class(p float64) int {
	if p >= t.Reject {
		return 1
	}
	return 0
}

type Prediction struct {
	Probability float64  `json:"probability"`
	Category    Category `json:"category"`
	Class       int      `json:"class"`
	Comment     string   `json:"comment"`
	RedFlag     bool     `json:"red_flag"`
}

type Categorizer struct {
	rules      *rules.Set
	thresholds Thresholds
}

func New(set *rules.Set, t Thresholds) (*Categorizer, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Categorizer{rules: set, thresholds: t}, nil
}

func (c *Categorizer) Thresholds() Thresholds {
	return c.thresholds
}

// Predict categorizes p and comments on raw. The red flag never changes
// the probability or the category.
func (c *Categorizer) Predict(raw string, p float64) Prediction {
	class := c.thresholds.Class(p)
	comment, redFlag := c.Comment(raw, class)

	return Prediction{
		Probability: p,
		Category:    c.thresholds.Category(p),
		Class:       class,
		Comment:     comment,
		RedFlag:     redFlag,
	}
}

// Findings is what the comment rules detected in a resume.
type Findings struct {
	Domains    []string
	PhoneSales bool
	Skills     []string
}

// RedFlag is set when undesirable domains appear without phone sales experience.
func (f Findings) RedFlag() bool {
	return len(f.Domains) > 0 && !f.PhoneSales
}

// Detect runs the keyword tables over the lowercased text. Domains and skills
// come out in table order.
func (c *Categorizer) Detect(raw string) Findings {
	lower := strings.ToLower(raw)

	var f Findings
	for _, d := range c.rules.RedFlags {
		if d.Matches(lower) {
			f.Domains = append(f.Domains, d.Domain)
		}
	}

	f.PhoneSales = c.rules.HasPhoneSales(lower)

	for _, s := range c.rules.Skills {
		if s.Matches(lower) {
			f.Skills = append(f.Skills, s.Name)
		}
	}

	return f
}

func (c *Categorizer) Comment(raw string, class int) (string, bool) {
	f := c.Detect(raw)

	var b strings.Builder
	switch {
	case f.RedFlag():
		fmt.Fprintf(&b, "RED FLAG: Имеет опыт работы в областях: %s, но отсутствует опыт телефонных продаж.",
			strings.Join(f.Domains, ", "))
	case len(f.Domains) > 0:
		fmt.Fprintf(&b, "Имеет опыт работы в областях: %s, но присутствует опыт телефонных продаж, что является положительным фактором.",
			strings.Join(f.Domains, ", "))
	case f.PhoneSales:
		b.WriteString("Кандидат имеет опыт телефонных продаж, что соответствует требованиям позиции.")
	case class == 0:
		b.WriteString("Недостаточное соответствие требованиям.")
	}

	if len(f.Skills) > 0 {
		fmt.Fprintf(&b, " Обладает следующими навыками: %s.", strings.Join(f.Skills, ", "))
	} else {
		b.WriteString(" В резюме не указаны ключевые навыки для телефонных продаж.")
	}

	return strings.TrimSpace(b.String()), f.RedFlag()
}
