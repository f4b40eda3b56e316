package language

import "github.com/spherical/manual-processor/internal/domain"

// Ranking orders languages by how easily they translate to English.
// English always ranks first; languages missing from the list rank last.
type Ranking struct {
	order map[string]int
}

// NewRanking builds a ranking from codes listed most favourable first
func NewRanking(codes []string) *Ranking {
	r := &Ranking{order: map[string]int{domain.LanguageEnglish: 0}}
	for _, code := range codes {
		code = NormalizeCode(code)
		if _, seen := r.order[code]; seen {
			continue
		}
		r.order[code] = len(r.order)
	}
	return r
}

// Rank returns the position of a language; lower is better
func (r *Ranking) Rank(code string) int {
	if rank, ok := r.order[NormalizeCode(code)]; ok {
		return rank
	}
	return len(r.order)
}
