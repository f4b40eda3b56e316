// Package ocr turns rendered pages into markdown and cropped figures using a
// grounding vision model.
package ocr

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical/manual-processor/internal/domain"
)

var (
	// <|ref|>TYPE<|/ref|><|det|>[[x1, y1, x2, y2]]<|/det|>, tolerant of spacing
	groundingTag = regexp.MustCompile(`<\|ref\|>\s*([^<]*?)\s*<\|/ref\|>\s*<\|det\|>(.*?)<\|/det\|>`)
	boxGroup     = regexp.MustCompile(`\[([^\[\]]*)\]`)

	refOnly    = regexp.MustCompile(`<\|ref\|>[^<]*<\|/ref\|>`)
	detOnly    = regexp.MustCompile(`<\|det\|>[^<]*<\|/det\|>`)
	strayTag   = regexp.MustCompile(`<\|[^>]+\|>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Grounding is the parsed, untrusted structure of one vision response
type Grounding struct {
	Elements []domain.GroundedElement
	Warnings []string
}

// ParseGrounding extracts grounded elements from tagged model output.
// Malformed boxes are skipped with a warning; inverted boxes are normalized.
func ParseGrounding(raw string) Grounding {
	var g Grounding

	for _, m := range groundingTag.FindAllStringSubmatch(raw, -1) {
		label := strings.ToLower(strings.TrimSpace(m[1]))
		if label == "" {
			g.Warnings = append(g.Warnings, "grounding tag without element type")
			continue
		}

		groups := boxGroup.FindAllStringSubmatch(m[2], -1)
		if len(groups) == 0 {
			g.Warnings = append(g.Warnings, fmt.Sprintf("%s: no bounding box in %q", label, m[2]))
			continue
		}

		for _, grp := range groups {
			box, err := parseBox(grp[1])
			if err != nil {
				g.Warnings = append(g.Warnings, fmt.Sprintf("%s: %v", label, err))
				continue
			}
			g.Elements = append(g.Elements, domain.GroundedElement{Type: domain.ElementType(label), Box: box})
		}
	}

	return g
}

func parseBox(s string) (domain.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("malformed box %q: want 4 coordinates, got %d", s, len(parts))
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("malformed box %q: %w", s, err)
		}
		v[i] = f
	}

	box := domain.BoundingBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	if box.X1 > box.X2 {
		box.X1, box.X2 = box.X2, box.X1
	}
	if box.Y1 > box.Y2 {
		box.Y1, box.Y2 = box.Y2, box.Y1
	}
	if box.Width() == 0 || box.Height() == 0 {
		return domain.BoundingBox{}, fmt.Errorf("empty box %q", s)
	}
	return box, nil
}

// VisualElements keeps image and figure elements, ordered top to bottom
func VisualElements(elements []domain.GroundedElement) []domain.GroundedElement {
	out := make([]domain.GroundedElement, 0, len(elements))
	for _, e := range elements {
		if e.Type.IsVisual() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Box.Y1 < out[j].Box.Y1 })
	return out
}

// StripTags removes grounding markup, leaving readable markdown
func StripTags(raw string) string {
	text := groundingTag.ReplaceAllString(raw, "")
	text = refOnly.ReplaceAllString(text, "")
	text = detOnly.ReplaceAllString(text, "")
	text = strayTag.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")

	return strings.TrimSpace(text)
}
