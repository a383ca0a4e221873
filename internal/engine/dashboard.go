package engine

import (
	"context"
	"time"

	"amvali/internal/domain"
	"amvali/internal/scoring"
)

// DashboardStats is the manager overview.
type DashboardStats struct {
	TotalProjects       int            `json:"total_projects"`
	ProjectsByStatus    map[string]int `json:"projects_by_status"`
	ProjectsByType      map[string]int `json:"projects_by_type"`
	QueueSize           int            `json:"queue_size"`
	OverdueProjects     int            `json:"overdue_projects"`
	Municipalities      int            `json:"municipalities"`
	TeamSize            int            `json:"team_size"`
	AvgCapacityPercent  float64        `json:"avg_capacity_percent"`
	OverloadedMembers   int            `json:"overloaded_members"`
	CompletedThisPeriod int            `json:"completed_projects"`
}

const overdueAfter = 30 * 24 * time.Hour

// Stats aggregates the dashboard figures. Overdue means in execution for
// longer than 30 days.
func (e Engine) Stats(ctx context.Context) (DashboardStats, error) {
	projects, err := e.Repo.ListProjects(ctx, "")
	if err != nil {
		return DashboardStats{}, err
	}
	stats := DashboardStats{
		TotalProjects:    len(projects),
		ProjectsByStatus: map[string]int{},
		ProjectsByType:   map[string]int{},
	}
	now := e.now().UTC()
	for _, p := range projects {
		stats.ProjectsByStatus[p.Status]++
		stats.ProjectsByType[p.ProjectType]++
		if p.Status == domain.StatusConcluido {
			stats.CompletedThisPeriod++
		}
		if p.Status == domain.StatusExecucao {
			if updated, err := time.Parse(time.RFC3339, p.UpdatedAt); err == nil && now.Sub(updated) > overdueAfter {
				stats.OverdueProjects++
			}
		}
	}
	stats.QueueSize = len(scoring.RankQueue(projects))

	stats.Municipalities, err = e.Repo.CountMunicipalities(ctx)
	if err != nil {
		return DashboardStats{}, err
	}

	team, err := e.Team(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	stats.TeamSize = len(team)
	var totalCapacity float64
	for _, m := range team {
		totalCapacity += m.CapacityPercent
		if m.CapacityPercent > e.Config.Capacity.WarnPercent {
			stats.OverloadedMembers++
		}
	}
	if len(team) > 0 {
		stats.AvgCapacityPercent = totalCapacity / float64(len(team))
	}
	return stats, nil
}

// MunicipalityDashboard is the per-municipality view.
type MunicipalityDashboard struct {
	Municipality domain.Municipality `json:"municipality"`
	Projects     []domain.Project    `json:"projects"`
	ActiveStars  map[string]int      `json:"active_stars"`
	StarsInUse   int                 `json:"stars_in_use"`
}

func (e Engine) MunicipalityStats(ctx context.Context, municipalityID string) (MunicipalityDashboard, error) {
	m, err := e.Repo.GetMunicipality(ctx, municipalityID)
	if err != nil {
		return MunicipalityDashboard{}, err
	}
	projects, err := e.Repo.ListProjects(ctx, municipalityID)
	if err != nil {
		return MunicipalityDashboard{}, err
	}
	total := 0
	for _, n := range m.ActiveStars {
		total += n
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	return MunicipalityDashboard{
		Municipality: m,
		Projects:     projects,
		ActiveStars:  m.ActiveStars,
		StarsInUse:   total,
	}, nil
}
