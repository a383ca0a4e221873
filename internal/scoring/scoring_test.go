package scoring

import (
	"errors"
	"testing"

	"amvali/internal/domain"
)

var testWeights = Weights{Impact: 3, Urgency: 2, Cost: 1}

var testDivisors = map[string]float64{
	"minima": 1,
	"media":  5,
	"alta":   10,
}

func TestComputeIPRKnownValues(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want float64
	}{
		{"eights minima", Inputs{8, 8, 8, "minima"}, 48},
		{"eights media", Inputs{8, 8, 8, "media"}, 9.6},
		{"eights alta", Inputs{8, 8, 8, "alta"}, 4.8},
		{"fives minima", Inputs{5, 5, 5, "minima"}, 30},
		{"max minima", Inputs{10, 10, 10, "minima"}, 60},
		{"mixed media", Inputs{4, 3, 2, "media"}, 4},
		{"min alta", Inputs{1, 1, 1, "alta"}, 0.6},
	}
	for _, tc := range cases {
		got, err := ComputeIPR(tc.in, testWeights, testDivisors)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestComputeIPRUnsetComplexity(t *testing.T) {
	_, err := ComputeIPR(Inputs{3, 3, 3, ""}, testWeights, testDivisors)
	if !errors.Is(err, ErrComplexityUnset) {
		t.Fatalf("expected ErrComplexityUnset, got %v", err)
	}
}

func TestComputeIPRRejectsOutOfRange(t *testing.T) {
	for _, in := range []Inputs{
		{0, 3, 3, "media"},
		{3, 11, 3, "media"},
		{3, 3, -1, "media"},
	} {
		if _, err := ComputeIPR(in, testWeights, testDivisors); err == nil {
			t.Fatalf("expected error for inputs %+v", in)
		}
	}
	if _, err := ComputeIPR(Inputs{3, 3, 3, "extrema"}, testWeights, testDivisors); err == nil {
		t.Fatal("expected error for unknown complexity")
	}
}

func TestComputeIPRMonotoneInImpact(t *testing.T) {
	prev := -1.0
	for impact := 1; impact <= 10; impact++ {
		got, err := ComputeIPR(Inputs{impact, 3, 3, "media"}, testWeights, testDivisors)
		if err != nil {
			t.Fatalf("impact %d: %v", impact, err)
		}
		if got <= prev {
			t.Fatalf("ipr not increasing with impact: %v then %v", prev, got)
		}
		prev = got
	}
}

func mkProject(id string, ipr float64, priority int, created, status string, complexity string) domain.Project {
	p := domain.Project{
		ID:        id,
		IPRScore:  ipr,
		Priority:  priority,
		CreatedAt: created,
		Status:    status,
	}
	if complexity != "" {
		p.Complexity = &complexity
	}
	return p
}

func TestRankQueueOrdering(t *testing.T) {
	projects := []domain.Project{
		mkProject("c", 4.0, 3, "2026-01-03T00:00:00Z", domain.StatusValidacao, "media"),
		mkProject("a", 6.0, 2, "2026-01-01T00:00:00Z", domain.StatusExecucao, "media"),
		mkProject("b", 6.0, 5, "2026-01-02T00:00:00Z", domain.StatusValidacao, "minima"),
	}
	ranked := RankQueue(projects)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked, got %d", len(ranked))
	}
	wantOrder := []string{"b", "a", "c"}
	for i, want := range wantOrder {
		if ranked[i].ID != want {
			t.Fatalf("position %d: got %s want %s", i, ranked[i].ID, want)
		}
	}
}

func TestRankQueueTieBreaks(t *testing.T) {
	// Same ipr and priority: earlier created_at wins, then id.
	projects := []domain.Project{
		mkProject("z", 5.0, 3, "2026-02-01T00:00:00Z", domain.StatusValidacao, "media"),
		mkProject("y", 5.0, 3, "2026-01-01T00:00:00Z", domain.StatusValidacao, "media"),
		mkProject("x", 5.0, 3, "2026-02-01T00:00:00Z", domain.StatusValidacao, "media"),
	}
	ranked := RankQueue(projects)
	wantOrder := []string{"y", "x", "z"}
	for i, want := range wantOrder {
		if ranked[i].ID != want {
			t.Fatalf("position %d: got %s want %s", i, ranked[i].ID, want)
		}
	}
}

func TestRankQueueExcludesIneligible(t *testing.T) {
	projects := []domain.Project{
		mkProject("undiagnosed", 0, 5, "2026-01-01T00:00:00Z", domain.StatusValidacao, ""),
		mkProject("drafted", 5.0, 5, "2026-01-01T00:00:00Z", domain.StatusSolicitacao, "media"),
		mkProject("done", 5.0, 5, "2026-01-01T00:00:00Z", domain.StatusConcluido, "media"),
		mkProject("eligible", 1.0, 1, "2026-01-01T00:00:00Z", domain.StatusExecucao, "alta"),
	}
	ranked := RankQueue(projects)
	if len(ranked) != 1 || ranked[0].ID != "eligible" {
		t.Fatalf("expected only eligible project, got %+v", ranked)
	}
}

func TestRankQueueDeterministic(t *testing.T) {
	projects := []domain.Project{
		mkProject("b", 5.0, 3, "2026-01-01T00:00:00Z", domain.StatusValidacao, "media"),
		mkProject("a", 5.0, 3, "2026-01-01T00:00:00Z", domain.StatusValidacao, "media"),
	}
	first := RankQueue(projects)
	// Present in the opposite order; the result must not change.
	second := RankQueue([]domain.Project{projects[1], projects[0]})
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order depends on input order: %s vs %s", first[i].ID, second[i].ID)
		}
	}
}
