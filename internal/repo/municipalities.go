package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"amvali/internal/domain"
)

const municipalityColumns = `id,name,code,contact_email,contact_phone,engagement_score,meeting_participations,clarity_score,financial_regularity,total_projects,completed_projects,active_stars_json,created_at`

func scanMunicipality(row rowScanner) (domain.Municipality, error) {
	var m domain.Municipality
	var stars string
	err := row.Scan(&m.ID, &m.Name, &m.Code, &m.ContactEmail, &m.ContactPhone,
		&m.EngagementScore, &m.MeetingParticipations, &m.ClarityScore, &m.FinancialRegularity,
		&m.TotalProjects, &m.CompletedProjects, &stars, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.ActiveStars = decodeStarMap(stars)
	return m, nil
}

func decodeStarMap(raw string) map[string]int {
	out := map[string]int{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func (r Repo) InsertMunicipality(ctx context.Context, tx *sql.Tx, m domain.Municipality) error {
	stars, err := json.Marshal(m.ActiveStars)
	if err != nil {
		return err
	}
	if m.ActiveStars == nil {
		stars = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO municipalities(`+municipalityColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Name, m.Code, m.ContactEmail, m.ContactPhone,
		m.EngagementScore, m.MeetingParticipations, m.ClarityScore, m.FinancialRegularity,
		m.TotalProjects, m.CompletedProjects, string(stars), m.CreatedAt)
	return err
}

func (r Repo) GetMunicipality(ctx context.Context, id string) (domain.Municipality, error) {
	return scanMunicipality(r.DB.QueryRowContext(ctx, `SELECT `+municipalityColumns+` FROM municipalities WHERE id=?`, id))
}

func (r Repo) GetMunicipalityTx(ctx context.Context, tx *sql.Tx, id string) (domain.Municipality, error) {
	return scanMunicipality(tx.QueryRowContext(ctx, `SELECT `+municipalityColumns+` FROM municipalities WHERE id=?`, id))
}

func (r Repo) ListMunicipalities(ctx context.Context) ([]domain.Municipality, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+municipalityColumns+` FROM municipalities ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Municipality
	for rows.Next() {
		m, err := scanMunicipality(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountMunicipalities(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM municipalities`).Scan(&n)
	return n, err
}

// UpdateStarsTx rewrites the per-area star counters and project totals.
func (r Repo) UpdateStarsTx(ctx context.Context, tx *sql.Tx, id string, stars map[string]int, totalProjects, completedProjects int) error {
	data, err := json.Marshal(stars)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE municipalities SET active_stars_json=?, total_projects=?, completed_projects=? WHERE id=?`,
		string(data), totalProjects, completedProjects, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateEngagementTx(ctx context.Context, tx *sql.Tx, id string, engagement, clarity float64, participations int, financialRegularity bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE municipalities SET engagement_score=?, clarity_score=?, meeting_participations=?, financial_regularity=? WHERE id=?`,
		engagement, clarity, participations, financialRegularity, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
