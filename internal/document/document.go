// Package document loads resume files and turns them into plain text.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var (
	ErrUnsupported = errors.New("unsupported document format")
	ErrEmpty       = errors.New("document is empty")
)

// Document is a resume payload as uploaded by a recruiter.
type Document struct {
	Name string
	Data []byte
}

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
	FormatText Format = "text"
)

var extensions = map[string]Format{
	".pdf":  FormatPDF,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".txt":  FormatText,
}

// Detect picks the format from the file extension, falling back to content sniffing.
func Detect(doc Document) (Format, error) {
	if f, ok := extensions[strings.ToLower(filepath.Ext(doc.Name))]; ok {
		return f, nil
	}

	switch {
	case bytes.HasPrefix(doc.Data, []byte("%PDF-")):
		return FormatPDF, nil
	case bytes.Contains(bytes.ToLower(firstBytes(doc.Data, 512)), []byte("<html")):
		return FormatHTML, nil
	case utf8.Valid(doc.Data):
		return FormatText, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnsupported, doc.Name)
}

// Text extracts the plain text of a document. Line structure is preserved
// because profile fields are matched line by line.
func Text(doc Document) (string, error) {
	if len(doc.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmpty, doc.Name)
	}

	format, err := Detect(doc)
	if err != nil {
		return "", err
	}

	var text string
	switch format {
	case FormatPDF:
		text, err = pdfText(doc.Data)
	case FormatHTML:
		text, err = htmlText(doc.Data)
	default:
		text, err = plainText(doc.Data)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s text from %s: %w", format, doc.Name, err)
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, doc.Name)
	}

	return text, nil
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		writeGlyphs(&b, p.Content().Text)
	}

	return b.String(), nil
}

// writeGlyphs lays glyphs out in content stream order: a change of baseline
// starts a new line and a wide horizontal gap becomes a space.
func writeGlyphs(b *strings.Builder, glyphs []pdf.Text) {
	var (
		prev    pdf.Text
		started bool
		space   = true
	)

	for _, g := range glyphs {
		if g.S == "" || g.S == "\n" {
			continue
		}

		if started {
			size := math.Max(prev.FontSize, 1)
			switch {
			case math.Abs(g.Y-prev.Y) > size/2:
				b.WriteByte('\n')
				space = true
			case g.X-(prev.X+prev.W) > size/4 && !space:
				b.WriteByte(' ')
			}
		}

		b.WriteString(g.S)
		space = strings.TrimSpace(g.S) == ""
		prev, started = g, true
	}
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "article": true, "header": true,
}

func htmlText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, head").Remove()

	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			node := c.Get(0)
			switch node.Type {
			case html.TextNode:
				b.WriteString(node.Data)
			case html.ElementNode:
				block := blockElements[node.Data]
				if block {
					b.WriteByte('\n')
				}
				walk(c)
				if block {
					b.WriteByte('\n')
				}
			}
		})
	}
	walk(doc.Selection)

	return cleanLines(b.String()), nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// cleanLines trims every line and collapses runs of blank lines.
func cleanLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func firstBytes(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// Read loads a single file.
func Read(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}

	return Document{Name: filepath.Base(path), Data: data}, nil
}

// LoadPaths expands directories into their supported files (non-recursive)
// and loads everything in a stable order. Explicit file arguments are loaded
// whatever their extension. A file named twice is loaded once, and documents
// whose base names collide are named by their path instead.
func LoadPaths(paths []string) ([]Document, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		path = filepath.Clean(path)
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", p, err)
		}

		if !info.IsDir() {
			add(p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", p, err)
		}

		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, ok := extensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}

	bases := make(map[string]int, len(files))
	for _, f := range files {
		bases[filepath.Base(f)]++
	}

	docs := make([]Document, 0, len(files))
	for _, f := range files {
		doc, err := Read(f)
		if err != nil {
			return nil, err
		}
		if bases[doc.Name] > 1 {
			doc.Name = filepath.ToSlash(f)
		}
		docs = append(docs, doc)
	}

	return docs, nil
}
