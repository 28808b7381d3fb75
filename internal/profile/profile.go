// Package profile pulls structured candidate fields out of raw resume text.
package profile

import (
	"regexp"
	"strings"
)

// Unknown marks a field that was not found in the resume.
const Unknown = "-"

const (
	GenderFemale = "Женщина"
	GenderMale   = "Мужчина"

	genderWindow = 500
)

var (
	phoneRe    = regexp.MustCompile(`\+7\s*\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}`)
	positionRe = regexp.MustCompile(`(?i)желаемая должность и зарплата\s*[:—]?\s*(.*)`)
	ageRe      = regexp.MustCompile(`,\s(\d{2})\s*(?:год|лет|года),`)
	salaryRe   = regexp.MustCompile(`\d{2,3}\s*(?:000|т.р.)\s*(?:₽|р|руб)`)
	nonDigitRe = regexp.MustCompile(`\D`)
)

// DefaultCities is the whitelist used when no rule set supplies one.
var DefaultCities = []string{
	"Москва", "Санкт-Петербург", "Екатеринбург", "Казань",
	"Новосибирск", "Самара", "Омск", "Челябинск",
}

type Info struct {
	Phone    string `json:"phone"`
	Position string `json:"position"`
	City     string `json:"city"`
	Age      string `json:"age"`
	Gender   string `json:"gender"`
	Salary   string `json:"salary"`
}

// Empty returns an Info with every field set to Unknown.
func Empty() Info {
	return Info{
		Phone:    Unknown,
		Position: Unknown,
		City:     Unknown,
		Age:      Unknown,
		Gender:   Unknown,
		Salary:   Unknown,
	}
}

type Parser struct {
	cityRe *regexp.Regexp
}

func NewParser(cities []string) *Parser {
	if len(cities) == 0 {
		cities = DefaultCities
	}

	quoted := make([]string, 0, len(cities))
	for _, c := range cities {
		quoted = append(quoted, regexp.QuoteMeta(c))
	}

	return &Parser{
		cityRe: regexp.MustCompile(`(` + strings.Join(quoted, "|") + `)`),
	}
}

// Parse runs every field matcher over the untouched raw text.
func (p *Parser) Parse(text string) Info {
	info := Empty()

	if m := phoneRe.FindString(text); m != "" {
		info.Phone = m
	}

	if m := positionRe.FindStringSubmatch(text); m != nil {
		if pos := strings.TrimSpace(m[1]); pos != "" {
			info.Position = pos
		}
	}

	if m := p.cityRe.FindStringSubmatch(text); m != nil {
		info.City = m[1]
	}

	info.Age = Age(text)
	info.Gender = Gender(text)
	info.Salary = Salary(text)

	return info
}

// Age returns the two-digit age from the ", 27 лет," header or Unknown.
func Age(text string) string {
	if m := ageRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return Unknown
}

// Salary returns the digits of the first salary expectation or Unknown.
func Salary(text string) string {
	if m := salaryRe.FindString(text); m != "" {
		return nonDigitRe.ReplaceAllString(m, "")
	}
	return Unknown
}

// Gender looks for the hh.ru "Женщина," / "Мужчина," marker near the top of the resume.
func Gender(text string) string {
	head := strings.ToLower(firstRunes(text, genderWindow))
	switch {
	case strings.Contains(head, "женщина,"):
		return GenderFemale
	case strings.Contains(head, "мужчина,"):
		return GenderMale
	default:
		return Unknown
	}
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
