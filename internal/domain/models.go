package domain

import (
	"fmt"
	"image"
	"strings"
)

// LanguageUnknown marks a page or section whose language could not be classified.
const LanguageUnknown = "unknown"

// LanguageEnglish is the ISO 639-1 code of the target language.
const LanguageEnglish = "en"


// PageLanguageSample is the classification of a single sampled page.
type PageLanguageSample struct {
	PageIndex int
	Language  string // ISO 639-1 code or LanguageUnknown
}

// Known reports whether the sample carries a usable language label.
func (s PageLanguageSample) Known() bool {
	return s.Language != "" && s.Language != LanguageUnknown
}

// LanguageSection is a contiguous, inclusive, 0-based page range of one language.
type LanguageSection struct {
	Language  string `json:"language"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// PageCount returns the number of pages in the section.
func (s LanguageSection) PageCount() int {
	return s.EndPage - s.StartPage + 1
}

func (s LanguageSection) String() string {
	return fmt.Sprintf("%s[%d-%d]", s.Language, s.StartPage, s.EndPage)
}

// ElementType is the label attached to a grounded element by the vision engine.
type ElementType string

const (
	ElementImage  ElementType = "image"
	ElementFigure ElementType = "figure"
	ElementTable  ElementType = "table"
	ElementText   ElementType = "text"
	ElementTitle  ElementType = "title"
	ElementHeader ElementType = "header"
)

// IsVisual reports whether the element should be cropped out as a picture.
func (t ElementType) IsVisual() bool {
	switch ElementType(strings.ToLower(string(t))) {
	case ElementImage, ElementFigure:
		return true
	default:
		return false
	}
}

// BoundingBox is an axis-aligned box. Units depend on the space it lives in.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Rect rounds the box to an integer pixel rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1+0.5), int(b.Y1+0.5), int(b.X2+0.5), int(b.Y2+0.5))
}

// GroundedElement is one tagged region reported by the vision engine,
// expressed in the engine's square model coordinate space.
type GroundedElement struct {
	Type ElementType
	Box  BoundingBox
}

// PageResult is the outcome of OCR for a single page. Immutable once produced.
type PageResult struct {
	PageIndex  int
	Text       string
	ImageFiles []string // file names relative to the images directory
	Failed     bool
	Err        error
}

// PageNumber returns the 1-based page number used in logs and file names.
func (r PageResult) PageNumber() int {
	return r.PageIndex + 1
}
