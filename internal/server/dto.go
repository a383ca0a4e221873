package server

import (
	"amvali/internal/domain"
	"amvali/internal/engine"
)

type RegisterRequest struct {
	Email          string   `json:"email" format:"email"`
	Password       string   `json:"password" minLength:"6"`
	Name           string   `json:"name"`
	Role           string   `json:"role" enum:"gestor_amvali,tecnico_amvali,municipal"`
	MunicipalityID string   `json:"municipality_id,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`
	WorkloadHours  int      `json:"workload_hours,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	MunicipalityID *string  `json:"municipality_id,omitempty"`
	Specialties    []string `json:"specialties"`
	WorkloadHours  int      `json:"workload_hours"`
	CreatedAt      string   `json:"created_at"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		MunicipalityID: u.MunicipalityID,
		Specialties:    nonNilSlice(u.Specialties),
		WorkloadHours:  u.WorkloadHours,
		CreatedAt:      u.CreatedAt,
	}
}

type CreateMunicipalityRequest struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

type EngagementRequest struct {
	EngagementScore       float64 `json:"engagement_score" minimum:"0" maximum:"100"`
	ClarityScore          float64 `json:"clarity_score" minimum:"0" maximum:"100"`
	MeetingParticipations int     `json:"meeting_participations" minimum:"0"`
	FinancialRegularity   bool    `json:"financial_regularity"`
}

type CreateProjectRequest struct {
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	ProjectType       string `json:"project_type" enum:"pavimentacao,edificacao,infraestrutura"`
	MunicipalityID    string `json:"municipality_id,omitempty"`
	Priority          int    `json:"priority" minimum:"1" maximum:"5"`
	ImpactScore       int    `json:"impact_score,omitempty" minimum:"1" maximum:"10"`
	UrgencyScore      int    `json:"urgency_score,omitempty" minimum:"1" maximum:"10"`
	CostScore         int    `json:"cost_score,omitempty" minimum:"1" maximum:"10"`
	Location          string `json:"location,omitempty"`
	Scope             string `json:"scope,omitempty"`
	Purpose           string `json:"purpose,omitempty"`
	EstimatedDeadline string `json:"estimated_deadline,omitempty"`
}

type UpdateProjectRequest struct {
	Title             *string  `json:"title,omitempty"`
	Description       *string  `json:"description,omitempty"`
	Priority          *int     `json:"priority,omitempty" minimum:"1" maximum:"5"`
	ImpactScore       *int     `json:"impact_score,omitempty" minimum:"1" maximum:"10"`
	UrgencyScore      *int     `json:"urgency_score,omitempty" minimum:"1" maximum:"10"`
	CostScore         *int     `json:"cost_score,omitempty" minimum:"1" maximum:"10"`
	Complexity        *string  `json:"complexity,omitempty" enum:"minima,media,alta"`
	Location          *string  `json:"location,omitempty"`
	Scope             *string  `json:"scope,omitempty"`
	Purpose           *string  `json:"purpose,omitempty"`
	EstimatedDeadline *string  `json:"estimated_deadline,omitempty"`
	Documents         []string `json:"documents,omitempty"`
	Version           int64    `json:"version,omitempty"`
}

type StageUpdateRequest struct {
	Status string  `json:"status" enum:"in_progress,completed"`
	Notes  *string `json:"notes,omitempty"`
}

type AllocateRequest struct {
	ProjectID string   `json:"project_id"`
	UserIDs   []string `json:"user_ids"`
}

type DiagnoseRequest struct {
	ProjectID   string `json:"project_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ProjectType string `json:"project_type,omitempty"`
	Location    string `json:"location,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
}

func projectResponse(p domain.Project) domain.Project {
	if p.AssignedTeam == nil {
		p.AssignedTeam = []string{}
	}
	if p.Stages == nil {
		p.Stages = []domain.Stage{}
	}
	if p.Documents == nil {
		p.Documents = []string{}
	}
	return p
}

func mapProjects(items []domain.Project) []domain.Project {
	out := make([]domain.Project, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func updateOptions(req UpdateProjectRequest, actorID string) engine.ProjectUpdateOptions {
	return engine.ProjectUpdateOptions{
		Title:             req.Title,
		Description:       req.Description,
		Priority:          req.Priority,
		ImpactScore:       req.ImpactScore,
		UrgencyScore:      req.UrgencyScore,
		CostScore:         req.CostScore,
		Complexity:        req.Complexity,
		Location:          req.Location,
		Scope:             req.Scope,
		Purpose:           req.Purpose,
		EstimatedDeadline: req.EstimatedDeadline,
		Documents:         req.Documents,
		Version:           req.Version,
		ActorID:           actorID,
	}
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
