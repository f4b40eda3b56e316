package language

import (
	"context"
	"fmt"
	"sort"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/observability"
)

// Policy controls which pages are sampled and how non-English sections are ranked
type Policy struct {
	FirstPages     int      // pages sampled individually from the front
	SampleInterval int      // stride for the remaining pages
	Ranking        []string // ease-of-translation order, most favourable first
}

// DefaultPolicy samples pages 0-4 and then every second page
func DefaultPolicy(ranking []string) Policy {
	return Policy{FirstPages: 5, SampleInterval: 2, Ranking: ranking}
}

// SampleIndexes returns the ascending 0-based page indexes to classify
func (p Policy) SampleIndexes(totalPages int) []int {
	first := min(max(p.FirstPages, 0), totalPages)
	interval := max(p.SampleInterval, 1)

	indexes := make([]int, 0, first+(totalPages-first)/interval+1)
	for i := 0; i < first; i++ {
		indexes = append(indexes, i)
	}
	for i := first; i < totalPages; i += interval {
		indexes = append(indexes, i)
	}
	return indexes
}

// Selection is the page range chosen for extraction
type Selection struct {
	Language     string
	StartPage    int
	EndPage      int
	FullDocument bool // no language signal; the whole document is used
	Override     bool // range came from configuration, detection skipped
	Sections     []domain.LanguageSection
	Samples      []domain.PageLanguageSample
}

// PageCount returns the number of pages in the selected range
func (s Selection) PageCount() int {
	return s.EndPage - s.StartPage + 1
}

func (s Selection) String() string {
	switch {
	case s.Override:
		return fmt.Sprintf("configured pages %d-%d", s.StartPage+1, s.EndPage+1)
	case s.FullDocument:
		return fmt.Sprintf("full document (pages %d-%d)", s.StartPage+1, s.EndPage+1)
	default:
		return fmt.Sprintf("%s section (pages %d-%d)", DisplayName(s.Language), s.StartPage+1, s.EndPage+1)
	}
}

// PageCounter reports the number of pages in a document
type PageCounter interface {
	PageCount(pdfPath string) (int, error)
}

// PageRange is an optional 0-based inclusive override
type PageRange struct {
	Start int
	End   int
}

// Detector scans sampled pages and selects the section to extract
type Detector struct {
	sampler    domain.TextSampler
	classifier domain.LanguageClassifier
	pages      PageCounter
	policy     Policy
	ranking    *Ranking
	override   *PageRange
	logger     *observability.Logger
}

// NewDetector creates a language section detector
func NewDetector(sampler domain.TextSampler, classifier domain.LanguageClassifier, pages PageCounter, policy Policy, logger *observability.Logger) *Detector {
	return &Detector{
		sampler:    sampler,
		classifier: classifier,
		pages:      pages,
		policy:     policy,
		ranking:    NewRanking(policy.Ranking),
		logger:     logger.WithOperation("language_scan"),
	}
}

// WithPageRange makes Detect return the given range without scanning
func (d *Detector) WithPageRange(r *PageRange) *Detector {
	d.override = r
	return d
}

// Detect samples the document and returns the page range to extract
func (d *Detector) Detect(ctx context.Context, pdfPath string) (Selection, error) {
	total, err := d.pages.PageCount(pdfPath)
	if err != nil {
		return Selection{}, err
	}
	if total <= 0 {
		return Selection{}, domain.ValidationError("PDF has no pages", nil)
	}

	if d.override != nil {
		start := min(max(d.override.Start, 0), total-1)
		end := min(max(d.override.End, start), total-1)
		return Selection{Language: domain.LanguageUnknown, StartPage: start, EndPage: end, Override: true}, nil
	}

	samples, err := d.Scan(ctx, pdfPath, total)
	if err != nil {
		return Selection{}, err
	}

	sections := GroupSections(samples, total)
	sel := SelectSection(sections, d.ranking, total)
	sel.Samples = samples

	d.logger.Info().
		Int("total_pages", total).
		Int("samples", len(samples)).
		Int("sections", len(sections)).
		Str("selected", sel.String()).
		Msg("Language scan complete")

	return sel, nil
}

// Scan classifies every sampled page
func (d *Detector) Scan(ctx context.Context, pdfPath string, totalPages int) ([]domain.PageLanguageSample, error) {
	indexes := d.policy.SampleIndexes(totalPages)
	samples := make([]domain.PageLanguageSample, 0, len(indexes))

	for _, idx := range indexes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lang := domain.LanguageUnknown
		if text := d.sampler.SampleText(ctx, pdfPath, idx); text != "" {
			lang = NormalizeCode(d.classifier.Identify(text))
		}

		d.logger.Debug().Int("page", idx+1).Str("language", lang).Msg("Sampled page")
		samples = append(samples, domain.PageLanguageSample{PageIndex: idx, Language: lang})
	}

	return samples, nil
}

// GroupSections collapses classified samples into contiguous sections covering
// pages 0..totalPages-1. Unknown and unsampled pages join the preceding section;
// leading ones join the first section.
func GroupSections(samples []domain.PageLanguageSample, totalPages int) []domain.LanguageSection {
	known := make([]domain.PageLanguageSample, 0, len(samples))
	for _, s := range samples {
		if s.Known() {
			known = append(known, s)
		}
	}
	if len(known) == 0 || totalPages <= 0 {
		return nil
	}
	sort.SliceStable(known, func(i, j int) bool { return known[i].PageIndex < known[j].PageIndex })

	var sections []domain.LanguageSection
	for _, s := range known {
		if n := len(sections); n > 0 && sections[n-1].Language == s.Language {
			continue
		}
		if n := len(sections); n > 0 {
			sections[n-1].EndPage = s.PageIndex - 1
		}
		sections = append(sections, domain.LanguageSection{Language: s.Language, StartPage: s.PageIndex})
	}

	sections[0].StartPage = 0
	sections[len(sections)-1].EndPage = totalPages - 1

	return sections
}

// SelectSection applies the selection rules: longest English section, else the
// longest section of the best-ranked language, else the whole document.
// Ties go to the earliest section.
func SelectSection(sections []domain.LanguageSection, ranking *Ranking, totalPages int) Selection {
	if len(sections) == 0 {
		return Selection{
			Language:     domain.LanguageUnknown,
			StartPage:    0,
			EndPage:      max(totalPages-1, 0),
			FullDocument: true,
		}
	}

	if best, ok := longest(sections, domain.LanguageEnglish); ok {
		return selectionFor(best, sections)
	}

	if ranking == nil {
		ranking = NewRanking(nil)
	}

	// Unranked languages share the last rank and compete on length
	best := sections[0]
	for _, s := range sections[1:] {
		rank, bestRank := ranking.Rank(s.Language), ranking.Rank(best.Language)
		if rank < bestRank || (rank == bestRank && s.PageCount() > best.PageCount()) {
			best = s
		}
	}
	return selectionFor(best, sections)
}

func longest(sections []domain.LanguageSection, lang string) (domain.LanguageSection, bool) {
	var best domain.LanguageSection
	found := false
	for _, s := range sections {
		if s.Language != lang {
			continue
		}
		if !found || s.PageCount() > best.PageCount() {
			best = s
			found = true
		}
	}
	return best, found
}

func selectionFor(s domain.LanguageSection, sections []domain.LanguageSection) Selection {
	return Selection{
		Language:  s.Language,
		StartPage: s.StartPage,
		EndPage:   s.EndPage,
		Sections:  sections,
	}
}
