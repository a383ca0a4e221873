package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"amvali/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleVersion is returned when a version-guarded update loses the race.
var ErrStaleVersion = errors.New("stale project version")

type rowScanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id,title,description,project_type,municipality_id,municipality_name,priority,complexity,status,location,scope,purpose,estimated_deadline,progress_percent,ipr_score,impact_score,urgency_score,cost_score,documents_json,ai_diagnosis,paused_from,version,created_at,updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var documents string
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.ProjectType, &p.MunicipalityID, &p.MunicipalityName,
		&p.Priority, &p.Complexity, &p.Status, &p.Location, &p.Scope, &p.Purpose, &p.EstimatedDeadline,
		&p.ProgressPercent, &p.IPRScore, &p.ImpactScore, &p.UrgencyScore, &p.CostScore,
		&documents, &p.AIDiagnosis, &p.PausedFrom, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Documents = decodeStringSlice(documents)
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	docs, err := json.Marshal(nonNilSlice(p.Documents))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, p.Description, p.ProjectType, p.MunicipalityID, p.MunicipalityName,
		p.Priority, p.Complexity, p.Status, p.Location, p.Scope, p.Purpose, p.EstimatedDeadline,
		p.ProgressPercent, p.IPRScore, p.ImpactScore, p.UrgencyScore, p.CostScore,
		string(docs), p.AIDiagnosis, p.PausedFrom, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	if p.Stages, err = r.listStages(ctx, r.DB.QueryContext, id); err != nil {
		return p, err
	}
	if p.AssignedTeam, err = r.listTeamIDs(ctx, r.DB.QueryContext, id); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	if p.Stages, err = r.listStages(ctx, tx.QueryContext, id); err != nil {
		return p, err
	}
	if p.AssignedTeam, err = r.listTeamIDs(ctx, tx.QueryContext, id); err != nil {
		return p, err
	}
	return p, nil
}

// ListProjects returns projects ordered by ipr desc then created_at asc.
// An empty municipalityID returns all projects.
func (r Repo) ListProjects(ctx context.Context, municipalityID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if municipalityID != "" {
		query += ` WHERE municipality_id=?`
		args = append(args, municipalityID)
	}
	query += ` ORDER BY ipr_score DESC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Stages, err = r.listStages(ctx, r.DB.QueryContext, res[i].ID); err != nil {
			return nil, err
		}
		if res[i].AssignedTeam, err = r.listTeamIDs(ctx, r.DB.QueryContext, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateProjectTx writes the full project row guarded by the version it was
// read at. A zero-row update means someone else won the race.
func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project, readVersion int64) error {
	docs, err := json.Marshal(nonNilSlice(p.Documents))
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE projects SET
title=?, description=?, project_type=?, municipality_id=?, municipality_name=?, priority=?,
complexity=?, status=?, location=?, scope=?, purpose=?, estimated_deadline=?,
progress_percent=?, ipr_score=?, impact_score=?, urgency_score=?, cost_score=?,
documents_json=?, ai_diagnosis=?, paused_from=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		p.Title, p.Description, p.ProjectType, p.MunicipalityID, p.MunicipalityName, p.Priority,
		p.Complexity, p.Status, p.Location, p.Scope, p.Purpose, p.EstimatedDeadline,
		p.ProgressPercent, p.IPRScore, p.ImpactScore, p.UrgencyScore, p.CostScore,
		string(docs), p.AIDiagnosis, p.PausedFrom, p.UpdatedAt,
		p.ID, readVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, p.ID)); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrStaleVersion
	}
	return nil
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listStages(ctx context.Context, query queryFn, projectID string) ([]domain.Stage, error) {
	rows, err := query(ctx, `SELECT name,status,started_at,completed_at,notes FROM project_stages WHERE project_id=? ORDER BY idx ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stages []domain.Stage
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s.Name, &s.Status, &s.StartedAt, &s.CompletedAt, &s.Notes); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r Repo) InsertStagesTx(ctx context.Context, tx *sql.Tx, projectID string, stages []domain.Stage) error {
	for i, s := range stages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_stages(project_id,idx,name,status,started_at,completed_at,notes) VALUES (?,?,?,?,?,?,?)`,
			projectID, i, s.Name, s.Status, s.StartedAt, s.CompletedAt, s.Notes); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateStageTx(ctx context.Context, tx *sql.Tx, projectID string, idx int, s domain.Stage) error {
	res, err := tx.ExecContext(ctx, `UPDATE project_stages SET status=?, started_at=?, completed_at=?, notes=? WHERE project_id=? AND idx=?`,
		s.Status, s.StartedAt, s.CompletedAt, s.Notes, projectID, idx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listTeamIDs(ctx context.Context, query queryFn, projectID string) ([]string, error) {
	rows, err := query(ctx, `SELECT user_id FROM project_team WHERE project_id=? ORDER BY assigned_at ASC, user_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceTeamTx swaps the full assignment set for a project.
func (r Repo) ReplaceTeamTx(ctx context.Context, tx *sql.Tx, projectID string, userIDs []string, assignedAt string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_team WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_team(project_id,user_id,assigned_at) VALUES (?,?,?)`,
			projectID, userID, assignedAt); err != nil {
			return err
		}
	}
	return nil
}

// CountActiveAssignmentsTx counts a technician's assignments to projects
// that are still active. Counted inside the allocation transaction so
// concurrent allocations see a consistent figure.
func (r Repo) CountActiveAssignmentsTx(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM project_team pt
JOIN projects p ON p.id=pt.project_id
WHERE pt.user_id=? AND p.status NOT IN ('concluido','rascunho')`, userID).Scan(&n)
	return n, err
}

func (r Repo) CountActiveAssignments(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM project_team pt
JOIN projects p ON p.id=pt.project_id
WHERE pt.user_id=? AND p.status NOT IN ('concluido','rascunho')`, userID).Scan(&n)
	return n, err
}

// ListAssignedProjects returns the compact view of a technician's active projects.
func (r Repo) ListAssignedProjects(ctx context.Context, userID string) ([]domain.ProjectSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT p.id, p.title, p.priority, p.status FROM project_team pt
JOIN projects p ON p.id=pt.project_id
WHERE pt.user_id=? AND p.status NOT IN ('concluido','rascunho')
ORDER BY p.ipr_score DESC, p.created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProjectSummary{}
	for rows.Next() {
		var s domain.ProjectSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Priority, &s.Status); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountActiveByPriorityTx counts a municipality's active projects at a
// given priority, for the simultaneous-projects limit. Drafts and concluded
// projects do not occupy a slot.
func (r Repo) CountActiveByPriorityTx(ctx context.Context, tx *sql.Tx, municipalityID string, priority int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM projects
WHERE municipality_id=? AND priority=? AND status NOT IN ('concluido','rascunho')`, municipalityID, priority).Scan(&n)
	return n, err
}

func decodeStringSlice(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
