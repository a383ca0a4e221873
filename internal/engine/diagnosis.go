package engine

import (
	"context"
	"errors"
	"time"

	"amvali/internal/advisor"
	"amvali/internal/domain"
	"amvali/internal/events"
	"amvali/internal/repo"
)

// DiagnoseOptions are parameters for a complexity diagnosis. ProjectID is
// optional: without it the verdict is returned but nothing is persisted.
type DiagnoseOptions struct {
	ProjectID   string
	Title       string
	Description string
	ProjectType string
	Location    string
	Scope       string
	Purpose     string
	ActorID     string
}

// Diagnose consults the complexity advisor. When a project is named and the
// advisor succeeds, the verdict is persisted and the IPR recomputed in one
// transaction. On advisor failure nothing is written: the project keeps its
// previous complexity, unset included, and the caller gets a retryable
// error.
func (e Engine) Diagnose(ctx context.Context, opts DiagnoseOptions) (advisor.Diagnosis, error) {
	if e.Advisor == nil {
		return advisor.Diagnosis{}, advisor.UnavailableError{Reason: "no advisor configured"}
	}

	req := advisor.Request{
		Title:       opts.Title,
		Description: opts.Description,
		ProjectType: opts.ProjectType,
		Location:    opts.Location,
		Scope:       opts.Scope,
		Purpose:     opts.Purpose,
	}
	if opts.ProjectID != "" {
		p, err := e.Repo.GetProject(ctx, opts.ProjectID)
		if err != nil {
			return advisor.Diagnosis{}, err
		}
		req.Title = p.Title
		req.Description = p.Description
		req.ProjectType = p.ProjectType
		req.Location = derefString(p.Location)
		req.Scope = derefString(p.Scope)
		req.Purpose = derefString(p.Purpose)
	}
	if req.Title == "" {
		return advisor.Diagnosis{}, ValidationError{Field: "title", Message: "required"}
	}

	timeout := time.Duration(e.Config.Advisor.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	diagCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	diag, err := e.Advisor.Diagnose(diagCtx, req)
	if err != nil {
		return advisor.Diagnosis{}, err
	}
	if !domain.ValidComplexity(diag.Complexity) {
		return advisor.Diagnosis{}, advisor.UnavailableError{Reason: "advisor returned unknown complexity"}
	}
	if opts.ProjectID == "" {
		return diag, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return advisor.Diagnosis{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return advisor.Diagnosis{}, err
	}
	readVersion := p.Version
	p.Complexity = &diag.Complexity
	p.AIDiagnosis = optionalString(diag.Justification)
	if err := e.recomputeIPR(&p); err != nil {
		return advisor.Diagnosis{}, err
	}
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectTx(ctx, tx, p, readVersion); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return advisor.Diagnosis{}, ConflictError{Message: "project changed concurrently"}
		}
		return advisor.Diagnosis{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeDiagnosisCompleted, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"complexity": diag.Complexity,
		"confidence": diag.Confidence,
		"ipr_score":  p.IPRScore,
	}); err != nil {
		return advisor.Diagnosis{}, err
	}
	if err := tx.Commit(); err != nil {
		return advisor.Diagnosis{}, err
	}
	return diag, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
