package scoring

import (
	"sort"

	"amvali/internal/domain"
)

// RankQueue filters the projects down to those eligible for the technical
// queue and orders them by ipr desc, then priority desc, then created_at
// asc, then id asc. The final key makes the order total, so equal inputs
// always produce the same sequence.
func RankQueue(projects []domain.Project) []domain.Project {
	ranked := make([]domain.Project, 0, len(projects))
	for _, p := range projects {
		if p.Rankable() {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.IPRScore != b.IPRScore {
			return a.IPRScore > b.IPRScore
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	return ranked
}
