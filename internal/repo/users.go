package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"amvali/internal/domain"
)

const userColumns = `id,email,name,role,municipality_id,specialties_json,workload_hours,created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var specialties string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.MunicipalityID, &specialties, &u.WorkloadHours, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Specialties = decodeStringSlice(specialties)
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash string) error {
	specialties, err := json.Marshal(nonNilSlice(u.Specialties))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO users(id,email,password_hash,name,role,municipality_id,specialties_json,workload_hours,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, passwordHash, u.Name, u.Role, u.MunicipalityID, string(specialties), u.WorkloadHours, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

// GetUserByEmail also returns the stored password hash for login checks.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, string, error) {
	var u domain.User
	var specialties, passwordHash string
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,password_hash,name,role,municipality_id,specialties_json,workload_hours,created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.Email, &passwordHash, &u.Name, &u.Role, &u.MunicipalityID, &specialties, &u.WorkloadHours, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, "", ErrNotFound
	}
	if err != nil {
		return u, "", err
	}
	u.Specialties = decodeStringSlice(specialties)
	return u, passwordHash, nil
}

// ListTechnicians returns all users with the technician role.
func (r Repo) ListTechnicians(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role=? ORDER BY name ASC`, domain.RoleTecnico)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) GetTechnicianTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err != nil {
		return u, err
	}
	return u, nil
}

// ListUsersByRole returns users with the given role, scoped to a
// municipality when municipalityID is set.
func (r Repo) ListUsersByRole(ctx context.Context, role, municipalityID string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role=?`
	args := []any{role}
	if municipalityID != "" {
		query += ` AND municipality_id=?`
		args = append(args, municipalityID)
	}
	query += ` ORDER BY name ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
