package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"amvali/internal/advisor"
	"amvali/internal/config"
	"amvali/internal/domain"
	"amvali/internal/events"
	"amvali/internal/repo"
	"amvali/internal/scoring"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Advisor advisor.ComplexityAdvisor
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, adv advisor.ComplexityAdvisor) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Advisor: adv,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) weights() scoring.Weights {
	return scoring.Weights{
		Impact:  e.Config.Scoring.Weights.Impact,
		Urgency: e.Config.Scoring.Weights.Urgency,
		Cost:    e.Config.Scoring.Weights.Cost,
	}
}

// recomputeIPR refreshes p.IPRScore from its current factors. Projects
// without a diagnosed complexity carry a zero score and are excluded from
// ranking rather than ranked at zero.
func (e Engine) recomputeIPR(p *domain.Project) error {
	complexity := ""
	if p.Complexity != nil {
		complexity = *p.Complexity
	}
	score, err := scoring.ComputeIPR(scoring.Inputs{
		Impact:     p.ImpactScore,
		Urgency:    p.UrgencyScore,
		Cost:       p.CostScore,
		Complexity: complexity,
	}, e.weights(), e.Config.Scoring.Divisors)
	if errors.Is(err, scoring.ErrComplexityUnset) {
		p.IPRScore = 0
		return nil
	}
	if err != nil {
		return ValidationError{Message: err.Error()}
	}
	p.IPRScore = score
	return nil
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Title             string
	Description       string
	ProjectType       string
	MunicipalityID    string
	Priority          int
	ImpactScore       int
	UrgencyScore      int
	CostScore         int
	Location          string
	Scope             string
	Purpose           string
	EstimatedDeadline string
	ActorID           string
	ActorRole         string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Project{}, ValidationError{Field: "title", Message: "required"}
	}
	if !domain.ValidProjectType(opts.ProjectType) {
		return domain.Project{}, ValidationError{Field: "project_type", Message: fmt.Sprintf("unknown type %q", opts.ProjectType)}
	}
	if opts.MunicipalityID == "" {
		return domain.Project{}, ValidationError{Field: "municipality_id", Message: "required"}
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return domain.Project{}, ValidationError{Field: "priority", Message: "must be 1..5"}
	}
	if opts.ImpactScore == 0 {
		opts.ImpactScore = 3
	}
	if opts.UrgencyScore == 0 {
		opts.UrgencyScore = 3
	}
	if opts.CostScore == 0 {
		opts.CostScore = 3
	}
	for _, s := range []struct {
		name  string
		value int
	}{{"impact_score", opts.ImpactScore}, {"urgency_score", opts.UrgencyScore}, {"cost_score", opts.CostScore}} {
		if s.value < 1 || s.value > 10 {
			return domain.Project{}, ValidationError{Field: s.name, Message: "must be 1..10"}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMunicipalityTx(ctx, tx, opts.MunicipalityID)
	if err != nil {
		return domain.Project{}, err
	}

	// 5-star cap per technical area per municipality.
	if m.ActiveStars[opts.ProjectType]+opts.Priority > e.Config.Limits.MaxStarsPerArea {
		return domain.Project{}, ConflictError{Message: fmt.Sprintf(
			"municipality %s exceeds the %d-star limit for %s (%d active, requested %d)",
			m.Name, e.Config.Limits.MaxStarsPerArea, opts.ProjectType, m.ActiveStars[opts.ProjectType], opts.Priority)}
	}
	// Simultaneous-projects limit by priority tier.
	active, err := e.Repo.CountActiveByPriorityTx(ctx, tx, opts.MunicipalityID, opts.Priority)
	if err != nil {
		return domain.Project{}, err
	}
	if limit := e.Config.Limits.SimultaneousByPriority[opts.Priority]; active >= limit {
		return domain.Project{}, ConflictError{Message: fmt.Sprintf(
			"municipality %s already has %d active priority-%d projects (limit %d)",
			m.Name, active, opts.Priority, limit)}
	}

	// Direct municipal submissions enter the pipeline immediately; projects
	// drafted by AMVALI staff start as rascunho until the first stage moves.
	status := domain.StatusRascunho
	if opts.ActorRole == domain.RoleMunicipal {
		status = domain.StatusSolicitacao
	}

	p := domain.Project{
		ID:                uuid.New().String(),
		Title:             opts.Title,
		Description:       opts.Description,
		ProjectType:       opts.ProjectType,
		MunicipalityID:    m.ID,
		MunicipalityName:  m.Name,
		Priority:          opts.Priority,
		Status:            status,
		ImpactScore:       opts.ImpactScore,
		UrgencyScore:      opts.UrgencyScore,
		CostScore:         opts.CostScore,
		Location:          optionalString(opts.Location),
		Scope:             optionalString(opts.Scope),
		Purpose:           optionalString(opts.Purpose),
		EstimatedDeadline: optionalString(opts.EstimatedDeadline),
		Documents:         []string{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.recomputeIPR(&p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}

	stages := make([]domain.Stage, len(e.Config.Stages))
	for i, name := range e.Config.Stages {
		stages[i] = domain.Stage{Name: name, Status: domain.StagePending}
	}
	if status == domain.StatusSolicitacao {
		stages[0].Status = domain.StageInProgress
		stages[0].StartedAt = &now
	}
	if err := e.Repo.InsertStagesTx(ctx, tx, p.ID, stages); err != nil {
		return domain.Project{}, fmt.Errorf("insert stages: %w", err)
	}
	p.Stages = stages
	p.AssignedTeam = []string{}

	stars := m.ActiveStars
	if stars == nil {
		stars = map[string]int{}
	}
	stars[opts.ProjectType] += opts.Priority
	if err := e.Repo.UpdateStarsTx(ctx, tx, m.ID, stars, m.TotalProjects+1, m.CompletedProjects); err != nil {
		return domain.Project{}, fmt.Errorf("update stars: %w", err)
	}

	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"title":        p.Title,
		"municipality": m.ID,
		"priority":     p.Priority,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectUpdateOptions carries the mutable fields; nil means unchanged.
// Version is the version the caller read the project at.
type ProjectUpdateOptions struct {
	Title             *string
	Description       *string
	Priority          *int
	ImpactScore       *int
	UrgencyScore      *int
	CostScore         *int
	Complexity        *string
	Location          *string
	Scope             *string
	Purpose           *string
	EstimatedDeadline *string
	Documents         []string
	Version           int64
	ActorID           string
}

func (e Engine) UpdateProject(ctx context.Context, projectID string, opts ProjectUpdateOptions) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.StatusConcluido {
		return domain.Project{}, ConflictError{Message: "project is concluded"}
	}
	readVersion := p.Version
	if opts.Version != 0 && opts.Version != readVersion {
		return domain.Project{}, ConflictError{Message: fmt.Sprintf("stale version %d, current is %d", opts.Version, readVersion)}
	}

	oldPriority := p.Priority
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Project{}, ValidationError{Field: "title", Message: "required"}
		}
		p.Title = *opts.Title
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Priority != nil {
		if *opts.Priority < 1 || *opts.Priority > 5 {
			return domain.Project{}, ValidationError{Field: "priority", Message: "must be 1..5"}
		}
		p.Priority = *opts.Priority
	}
	for _, s := range []struct {
		name  string
		value *int
		dst   *int
	}{
		{"impact_score", opts.ImpactScore, &p.ImpactScore},
		{"urgency_score", opts.UrgencyScore, &p.UrgencyScore},
		{"cost_score", opts.CostScore, &p.CostScore},
	} {
		if s.value == nil {
			continue
		}
		if *s.value < 1 || *s.value > 10 {
			return domain.Project{}, ValidationError{Field: s.name, Message: "must be 1..10"}
		}
		*s.dst = *s.value
	}
	if opts.Complexity != nil {
		if !domain.ValidComplexity(*opts.Complexity) {
			return domain.Project{}, ValidationError{Field: "complexity", Message: fmt.Sprintf("unknown tier %q", *opts.Complexity)}
		}
		p.Complexity = opts.Complexity
	}
	if opts.Location != nil {
		p.Location = optionalString(*opts.Location)
	}
	if opts.Scope != nil {
		p.Scope = optionalString(*opts.Scope)
	}
	if opts.Purpose != nil {
		p.Purpose = optionalString(*opts.Purpose)
	}
	if opts.EstimatedDeadline != nil {
		p.EstimatedDeadline = optionalString(*opts.EstimatedDeadline)
	}
	if opts.Documents != nil {
		p.Documents = opts.Documents
	}
	if err := e.recomputeIPR(&p); err != nil {
		return domain.Project{}, err
	}

	// A priority change moves the municipality's star allocation.
	if p.Priority != oldPriority {
		m, err := e.Repo.GetMunicipalityTx(ctx, tx, p.MunicipalityID)
		if err != nil {
			return domain.Project{}, err
		}
		stars := m.ActiveStars
		if stars == nil {
			stars = map[string]int{}
		}
		next := stars[p.ProjectType] - oldPriority + p.Priority
		if next > e.Config.Limits.MaxStarsPerArea {
			return domain.Project{}, ConflictError{Message: fmt.Sprintf(
				"priority change exceeds the %d-star limit for %s", e.Config.Limits.MaxStarsPerArea, p.ProjectType)}
		}
		stars[p.ProjectType] = next
		if err := e.Repo.UpdateStarsTx(ctx, tx, m.ID, stars, m.TotalProjects, m.CompletedProjects); err != nil {
			return domain.Project{}, err
		}
	}

	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectTx(ctx, tx, p, readVersion); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return domain.Project{}, ConflictError{Message: "project changed concurrently"}
		}
		return domain.Project{}, err
	}
	p.Version = readVersion + 1

	if err := e.Events.Append(ctx, tx, events.TypeProjectUpdated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"ipr_score": p.IPRScore,
		"priority":  p.Priority,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// stageStatusByIndex maps the first incomplete stage to the project status.
var stageStatusByIndex = map[int]string{
	0: domain.StatusSolicitacao,
	1: domain.StatusBriefing,
	2: domain.StatusDiagnostico,
	3: domain.StatusValidacao,
	4: domain.StatusExecucao,
	5: domain.StatusEntrega,
}

func ensureStageTransition(from, to string) error {
	switch from {
	case domain.StagePending:
		if to == domain.StageInProgress || to == domain.StageCompleted {
			return nil
		}
	case domain.StageInProgress:
		if to == domain.StageCompleted {
			return nil
		}
	}
	return ConflictError{Message: fmt.Sprintf("invalid stage transition %s -> %s", from, to)}
}

// StageUpdateOptions are parameters for advancing a project stage.
type StageUpdateOptions struct {
	Status  string
	Notes   *string
	ActorID string
}

func (e Engine) UpdateStage(ctx context.Context, projectID string, stageIdx int, opts StageUpdateOptions) (domain.Project, error) {
	if opts.Status != domain.StageInProgress && opts.Status != domain.StageCompleted {
		return domain.Project{}, ValidationError{Field: "status", Message: fmt.Sprintf("unknown stage status %q", opts.Status)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.StatusConcluido {
		return domain.Project{}, ConflictError{Message: "project is concluded"}
	}
	if p.Status == domain.StatusPausado {
		return domain.Project{}, ConflictError{Message: "project is paused"}
	}
	if stageIdx < 0 || stageIdx >= len(p.Stages) {
		return domain.Project{}, ValidationError{Field: "stage_index", Message: "out of range"}
	}
	stage := p.Stages[stageIdx]
	if err := ensureStageTransition(stage.Status, opts.Status); err != nil {
		return domain.Project{}, err
	}
	for i := 0; i < stageIdx; i++ {
		if p.Stages[i].Status != domain.StageCompleted {
			return domain.Project{}, ConflictError{Message: fmt.Sprintf("stage %d not completed yet", i)}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	if opts.Status == domain.StageInProgress && stage.StartedAt == nil {
		stage.StartedAt = &now
	}
	if opts.Status == domain.StageCompleted {
		if stage.StartedAt == nil {
			stage.StartedAt = &now
		}
		stage.CompletedAt = &now
	}
	stage.Status = opts.Status
	if opts.Notes != nil {
		stage.Notes = opts.Notes
	}
	if err := e.Repo.UpdateStageTx(ctx, tx, p.ID, stageIdx, stage); err != nil {
		return domain.Project{}, err
	}
	p.Stages[stageIdx] = stage

	completed := 0
	nextIdx := -1
	for i, s := range p.Stages {
		if s.Status == domain.StageCompleted {
			completed++
		} else if nextIdx == -1 {
			nextIdx = i
		}
	}
	p.ProgressPercent = float64(completed) / float64(len(p.Stages)) * 100

	wasConcluded := false
	if nextIdx == -1 {
		p.Status = domain.StatusConcluido
		wasConcluded = true
	} else if s, ok := stageStatusByIndex[nextIdx]; ok {
		p.Status = s
	}

	readVersion := p.Version
	p.UpdatedAt = now
	if err := e.Repo.UpdateProjectTx(ctx, tx, p, readVersion); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return domain.Project{}, ConflictError{Message: "project changed concurrently"}
		}
		return domain.Project{}, err
	}
	p.Version = readVersion + 1

	if wasConcluded {
		m, err := e.Repo.GetMunicipalityTx(ctx, tx, p.MunicipalityID)
		if err != nil {
			return domain.Project{}, err
		}
		stars := m.ActiveStars
		if stars == nil {
			stars = map[string]int{}
		}
		stars[p.ProjectType] -= p.Priority
		if stars[p.ProjectType] < 0 {
			stars[p.ProjectType] = 0
		}
		if err := e.Repo.UpdateStarsTx(ctx, tx, m.ID, stars, m.TotalProjects, m.CompletedProjects+1); err != nil {
			return domain.Project{}, err
		}
	}

	if err := e.notifyMunicipality(ctx, tx, p, stage, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeStageUpdated, p.ID, "stage", fmt.Sprintf("%s/%d", p.ID, stageIdx), opts.ActorID, events.EventPayload{
		"stage":    stage.Name,
		"status":   stage.Status,
		"progress": p.ProgressPercent,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) notifyMunicipality(ctx context.Context, tx *sql.Tx, p domain.Project, stage domain.Stage, now string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM users WHERE role=? AND municipality_id=?`, domain.RoleMunicipal, p.MunicipalityID)
	if err != nil {
		return err
	}
	defer rows.Close()
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	title := fmt.Sprintf("Projeto %s atualizado", p.Title)
	message := fmt.Sprintf("Etapa %q agora está %s", stage.Name, stage.Status)
	if p.Status == domain.StatusConcluido {
		title = fmt.Sprintf("Projeto %s concluído", p.Title)
		message = "Todas as etapas foram concluídas"
	}
	for _, userID := range userIDs {
		n := domain.Notification{
			ID:               uuid.New().String(),
			UserID:           userID,
			Title:            title,
			Message:          message,
			NotificationType: "stage_update",
			ProjectID:        &p.ID,
			CreatedAt:        now,
		}
		if err := e.Repo.InsertNotificationTx(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}

// PauseProject pauses any non-terminal project, remembering the status it
// was paused from so resume can restore it.
func (e Engine) PauseProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.StatusConcluido {
		return domain.Project{}, ConflictError{Message: "project is concluded"}
	}
	if p.Status == domain.StatusPausado {
		return domain.Project{}, ConflictError{Message: "project already paused"}
	}
	readVersion := p.Version
	from := p.Status
	p.PausedFrom = &from
	p.Status = domain.StatusPausado
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectTx(ctx, tx, p, readVersion); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return domain.Project{}, ConflictError{Message: "project changed concurrently"}
		}
		return domain.Project{}, err
	}
	p.Version = readVersion + 1
	if err := e.Events.Append(ctx, tx, events.TypeProjectPaused, p.ID, "project", p.ID, actorID, events.EventPayload{"paused_from": from}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ResumeProject restores the status the project was paused from.
func (e Engine) ResumeProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.StatusPausado {
		return domain.Project{}, ConflictError{Message: "project is not paused"}
	}
	readVersion := p.Version
	restored := domain.StatusSolicitacao
	if p.PausedFrom != nil && *p.PausedFrom != "" {
		restored = *p.PausedFrom
	}
	p.Status = restored
	p.PausedFrom = nil
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectTx(ctx, tx, p, readVersion); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return domain.Project{}, ConflictError{Message: "project changed concurrently"}
		}
		return domain.Project{}, err
	}
	p.Version = readVersion + 1
	if err := e.Events.Append(ctx, tx, events.TypeProjectResumed, p.ID, "project", p.ID, actorID, events.EventPayload{"status": restored}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

// ListProjects returns projects, scoped to a municipality when set.
func (e Engine) ListProjects(ctx context.Context, municipalityID string) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, municipalityID)
}

// Queue returns the ranked technical queue.
func (e Engine) Queue(ctx context.Context) ([]domain.Project, error) {
	projects, err := e.Repo.ListProjects(ctx, "")
	if err != nil {
		return nil, err
	}
	return scoring.RankQueue(projects), nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
