package normalize

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Dictionary is a word form to lemma table, usually exported from a
// morphological analyzer. Unknown forms are returned unchanged.
type Dictionary struct {
	lemmas map[string]string
}

func (d *Dictionary) Lemma(word string) string {
	if lemma, ok := d.lemmas[word]; ok {
		return lemma
	}
	return word
}

func (d *Dictionary) Len() int {
	return len(d.lemmas)
}

// LoadDictionary reads a TSV file with "form<TAB>lemma" lines.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lemma dictionary: %w", err)
	}
	defer f.Close()

	return ReadDictionary(f)
}

func ReadDictionary(r io.Reader) (*Dictionary, error) {
	d := &Dictionary{lemmas: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		form, lemma, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("lemma dictionary line %d: expected form<TAB>lemma", line)
		}

		form = strings.ToLower(strings.TrimSpace(form))
		lemma = strings.ToLower(strings.TrimSpace(lemma))
		if form == "" || lemma == "" {
			continue
		}

		d.lemmas[form] = lemma
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading lemma dictionary: %w", err)
	}

	return d, nil
}
