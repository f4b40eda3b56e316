// Package reference assembles per-page OCR output into the final reference
// markdown document.
package reference

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/ocr"
)

// ImagesDir is the images directory name, relative to the reference file
const ImagesDir = "images"

// FileSuffix is appended to the source stem to name the reference file
const FileSuffix = "_reference.md"

var pageNumberLine = regexp.MustCompile(`(?i)^\s*(?:(?:page|seite|pagina|página|side|sida|strona)\s*)?[-–]?\s*\d{1,4}\s*(?:(?:/|of|von|de|van)\s*\d{1,4})?\s*[-–]?\s*$`)

// Minimum repetitions for a first or last line to count as a running header or footer
const minRepeats = 3

// AssembleInput is everything needed to build a reference document
type AssembleInput struct {
	SourceName string
	Pages      []domain.PageResult
	Translated bool
	Generated  time.Time
}

// Document is an assembled reference
type Document struct {
	Title      string
	SourceName string
	FileName   string
	Markdown   string
	Pages      int
	Figures    int
}

// OutputFileName returns "<stem>_reference.md" for a source file name
func OutputFileName(sourceName string) string {
	base := filepath.Base(sourceName)
	return strings.TrimSuffix(base, filepath.Ext(base)) + FileSuffix
}

// Assemble concatenates page texts in page order, strips residual tags,
// page-number lines and running headers/footers, and links each page's
// figures after its text.
func Assemble(in AssembleInput) (Document, error) {
	if strings.TrimSpace(in.SourceName) == "" {
		return Document{}, domain.ValidationError("source name is required", nil)
	}
	if in.Generated.IsZero() {
		in.Generated = time.Now()
	}

	pages := make([]domain.PageResult, len(in.Pages))
	copy(pages, in.Pages)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageIndex < pages[j].PageIndex })

	texts := make([][]string, len(pages))
	for i, p := range pages {
		texts[i] = cleanLines(ocr.StripTags(p.Text))
	}
	texts = dropRunningLines(texts)

	var body []string
	figure := 0
	for i, p := range pages {
		if text := strings.TrimSpace(strings.Join(texts[i], "\n")); text != "" {
			body = append(body, text)
		}
		for _, img := range p.ImageFiles {
			figure++
			body = append(body, fmt.Sprintf("![Figure %d](%s)", figure, path.Join(ImagesDir, img)))
		}
	}

	title := Title(in.SourceName)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Source:** %s\n\n", filepath.Base(in.SourceName))
	fmt.Fprintf(&b, "**Generated:** %s\n\n", in.Generated.Format("2006-01-02"))
	if in.Translated {
		b.WriteString("**Language:** English (translated)\n\n")
	}
	b.WriteString("---\n\n")
	b.WriteString(strings.Join(body, "\n\n"))
	b.WriteString("\n")

	return Document{
		Title:      title,
		SourceName: filepath.Base(in.SourceName),
		FileName:   OutputFileName(in.SourceName),
		Markdown:   b.String(),
		Pages:      len(pages),
		Figures:    figure,
	}, nil
}

// Title derives a display title from a file name: "oven_HX600.pdf" -> "Oven Hx600"
func Title(sourceName string) string {
	base := filepath.Base(sourceName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return cases.Title(language.English).String(strings.ReplaceAll(stem, "_", " "))
}

func cleanLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if pageNumberLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// dropRunningLines removes first and last non-blank lines that repeat on at
// least minRepeats pages and at least half of the pages.
func dropRunningLines(pages [][]string) [][]string {
	counts := make(map[string]int)
	for _, lines := range pages {
		seen := make(map[string]bool)
		for _, i := range edgeLines(lines) {
			key := strings.TrimSpace(lines[i])
			if !seen[key] {
				seen[key] = true
				counts[key]++
			}
		}
	}

	running := make(map[string]bool)
	for line, n := range counts {
		if n >= minRepeats && n*2 >= len(pages) {
			running[line] = true
		}
	}
	if len(running) == 0 {
		return pages
	}

	out := make([][]string, len(pages))
	for p, lines := range pages {
		drop := make(map[int]bool)
		for _, i := range edgeLines(lines) {
			if running[strings.TrimSpace(lines[i])] {
				drop[i] = true
			}
		}
		for i, line := range lines {
			if !drop[i] {
				out[p] = append(out[p], line)
			}
		}
	}
	return out
}

// edgeLines returns the indexes of the first and last non-blank lines
func edgeLines(lines []string) []int {
	first, last := -1, -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}

	switch {
	case first < 0:
		return nil
	case first == last:
		return []int{first}
	default:
		return []int{first, last}
	}
}
