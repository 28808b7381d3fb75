// Package normalize turns raw resume text into the stemmed token stream the
// vectorizer was trained on.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/russian"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/spigell/hh-screener/internal/rules"
)

const footerTokens = 2

var (
	coverRe    = regexp.MustCompile(`(?i)сопроводительное письмо`)
	positionRe = regexp.MustCompile(`(?i)желаемая должность и зарплата`)
	employRe   = regexp.MustCompile(`(?s)Занятость:.*?Опыт работы —`)

	historyMarker = "История общения с кандидатом"

	months = `(?:январ[ья]|феврал[ья]|марта?|апрел[ья]|ма[йя]|июн[ья]|июл[ья]|август[а]?|сентябр[ья]|октябр[ья]|ноябр[ья]|декабр[ья])`

	stripRes = []*regexp.Regexp{
		regexp.MustCompile(`\S+@\S+`),
		regexp.MustCompile(`\+7\s*\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}`),
		regexp.MustCompile(`http\S+|www\.\S+|\S+\.ru|\S+\.com`),
		regexp.MustCompile(`(?i)` + months + `\s+\d{4}\s*[—-]\s*` + months + `\s+\d{4}`),
		regexp.MustCompile(`(?i)` + months + `\s+\d{4}`),
		regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`),
	}

	// Word-character runs containing a digit; removed when made of digits only.
	numericWordRe = regexp.MustCompile(`[\p{L}\p{N}]*\d[\p{L}\p{N}]*`)
	tagRe         = regexp.MustCompile(`<.*?>`)
	wordRe        = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
)

const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~•–—"

// Lemmatizer reduces a lowercased word to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

type identity struct{}

func (identity) Lemma(word string) string { return word }

type Normalizer struct {
	sections  []sectionTag
	stopwords map[string]struct{}
	lemmas    Lemmatizer
}

type sectionTag struct {
	re  *regexp.Regexp
	tag string
}

// New builds a Normalizer from the rule set. A nil lemmatizer leaves words as they are.
func New(set *rules.Set, lemmas Lemmatizer) *Normalizer {
	if lemmas == nil {
		lemmas = identity{}
	}

	sections := make([]sectionTag, 0, len(set.Sections))
	for _, s := range set.Sections {
		sections = append(sections, sectionTag{
			re:  regexp.MustCompile(`(?i)` + regexp.QuoteMeta(s.Pattern)),
			tag: s.Tag,
		})
	}

	return &Normalizer{
		sections:  sections,
		stopwords: set.StopwordSet(),
		lemmas:    lemmas,
	}
}

// Normalize never fails: unusable input yields a short or empty token list.
func (n *Normalizer) Normalize(raw string) []string {
	text := norm.NFC.String(raw)
	text = Truncate(text)
	text = n.tagSections(text)
	text = Strip(text)

	tokens := n.FilterStopwords(n.Tokenize(text))

	stems := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		stem := russian.Stem(n.lemmas.Lemma(tok), true)
		if stem == "" {
			continue
		}
		stems = append(stems, stem)
	}

	if len(stems) > footerTokens {
		stems = stems[:len(stems)-footerTokens]
	}

	return stems
}

// Join is a convenience wrapper returning the space-joined token stream.
func (n *Normalizer) Join(raw string) string {
	return strings.Join(n.Normalize(raw), " ")
}

// Truncate drops the boilerplate before the cover letter or desired position
// block and everything from the recruiter history onwards.
func Truncate(text string) string {
	if loc := coverRe.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	} else if loc := positionRe.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}

	text = employRe.ReplaceAllString(text, "Опыт работы —")

	if i := strings.Index(text, historyMarker); i != -1 {
		text = text[:i]
	}

	return text
}

func (n *Normalizer) tagSections(text string) string {
	for _, s := range n.sections {
		text = s.re.ReplaceAllLiteralString(text, s.tag)
	}
	return text
}

// Strip removes contacts, links, dates, numbers, tags and punctuation.
// Applying it to its own output changes nothing.
func Strip(text string) string {
	for _, re := range stripRes {
		text = re.ReplaceAllString(text, " ")
	}

	text = numericWordRe.ReplaceAllStringFunc(text, func(w string) string {
		for _, r := range w {
			if !unicode.IsDigit(r) {
				return w
			}
		}
		return " "
	})

	text = tagRe.ReplaceAllString(text, " ")

	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(punctuation, r) {
			return -1
		}
		return r
	}, text)
}

func (n *Normalizer) Tokenize(text string) []string {
	// cases.Caser keeps state, so one is built per call.
	return wordRe.FindAllString(cases.Lower(language.Russian).String(text), -1)
}

func (n *Normalizer) FilterStopwords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := n.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
