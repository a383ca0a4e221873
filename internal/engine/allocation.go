package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"amvali/internal/domain"
	"amvali/internal/events"
	"amvali/internal/repo"
)

// CapacityWarning flags a technician pushed past the configured threshold.
// Allocation still succeeds; the warning is informational.
type CapacityWarning struct {
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	CapacityPercent float64 `json:"capacity_percent"`
}

// AllocationResult is the outcome of a team allocation.
type AllocationResult struct {
	Project  domain.Project    `json:"project"`
	Warnings []CapacityWarning `json:"warnings"`
}

// AllocateOptions are parameters for allocating a team to a project.
type AllocateOptions struct {
	UserIDs []string
	ActorID string
}

// capacityPercent derives utilization from the active assignment count.
// hours_per_project is the estimated weekly cost of one active project.
// The figure is deliberately not capped at 100 so over-allocation shows up.
func (e Engine) capacityPercent(activeProjects, workloadHours int) float64 {
	if workloadHours <= 0 {
		workloadHours = e.Config.Capacity.HoursPerProject
	}
	return float64(activeProjects*e.Config.Capacity.HoursPerProject) / float64(workloadHours) * 100
}

// AllocateTeam replaces the project's assignment set atomically. The active
// counts feeding the capacity warnings are taken inside the same
// transaction, so concurrent allocations cannot double-count. Re-applying
// the same set is a no-op with the same result.
func (e Engine) AllocateTeam(ctx context.Context, projectID string, opts AllocateOptions) (AllocationResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AllocationResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return AllocationResult{}, err
	}
	if p.Status == domain.StatusConcluido {
		return AllocationResult{}, ConflictError{Message: "project is concluded"}
	}

	seen := map[string]bool{}
	technicians := make([]domain.User, 0, len(opts.UserIDs))
	for _, userID := range opts.UserIDs {
		if seen[userID] {
			return AllocationResult{}, ValidationError{Field: "user_ids", Message: fmt.Sprintf("duplicate user %s", userID)}
		}
		seen[userID] = true
		u, err := e.Repo.GetTechnicianTx(ctx, tx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return AllocationResult{}, ValidationError{Field: "user_ids", Message: fmt.Sprintf("user %s not found", userID)}
		}
		if err != nil {
			return AllocationResult{}, err
		}
		if u.Role != domain.RoleTecnico {
			return AllocationResult{}, ValidationError{Field: "user_ids", Message: fmt.Sprintf("user %s is not a technician", userID)}
		}
		technicians = append(technicians, u)
	}

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ReplaceTeamTx(ctx, tx, p.ID, opts.UserIDs, now); err != nil {
		return AllocationResult{}, err
	}
	p.AssignedTeam = opts.UserIDs
	if p.AssignedTeam == nil {
		p.AssignedTeam = []string{}
	}

	var warnings []CapacityWarning
	for _, u := range technicians {
		active, err := e.Repo.CountActiveAssignmentsTx(ctx, tx, u.ID)
		if err != nil {
			return AllocationResult{}, err
		}
		capacity := e.capacityPercent(active, u.WorkloadHours)
		if capacity > e.Config.Capacity.WarnPercent {
			warnings = append(warnings, CapacityWarning{UserID: u.ID, Name: u.Name, CapacityPercent: capacity})
		}
	}

	if err := e.Events.Append(ctx, tx, events.TypeTeamAllocated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"user_ids": opts.UserIDs,
		"warnings": len(warnings),
	}); err != nil {
		return AllocationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AllocationResult{}, err
	}
	return AllocationResult{Project: p, Warnings: warnings}, nil
}

// Team lists every technician with derived capacity figures.
func (e Engine) Team(ctx context.Context) ([]domain.TeamMember, error) {
	technicians, err := e.Repo.ListTechnicians(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]domain.TeamMember, 0, len(technicians))
	for _, u := range technicians {
		active, err := e.Repo.CountActiveAssignments(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		assigned, err := e.Repo.ListAssignedProjects(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		members = append(members, domain.TeamMember{
			ID:               u.ID,
			Name:             u.Name,
			Email:            u.Email,
			Specialties:      u.Specialties,
			WorkloadHours:    u.WorkloadHours,
			ActiveProjects:   active,
			CapacityPercent:  e.capacityPercent(active, u.WorkloadHours),
			AssignedProjects: assigned,
		})
	}
	return members, nil
}
