package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"amvali/internal/domain"
	"amvali/internal/events"
	"amvali/internal/repo"
)

// UserCreateOptions are parameters for registering a user. PasswordHash
// must already be hashed; the engine never sees plaintext passwords.
type UserCreateOptions struct {
	Email          string
	PasswordHash   string
	Name           string
	Role           string
	MunicipalityID string
	Specialties    []string
	WorkloadHours  int
	ActorID        string
}

func (e Engine) RegisterUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if _, err := mail.ParseAddress(opts.Email); err != nil {
		return domain.User{}, ValidationError{Field: "email", Message: "invalid address"}
	}
	if opts.PasswordHash == "" {
		return domain.User{}, ValidationError{Field: "password", Message: "required"}
	}
	if opts.Name == "" {
		return domain.User{}, ValidationError{Field: "name", Message: "required"}
	}
	switch opts.Role {
	case domain.RoleGestor, domain.RoleTecnico, domain.RoleMunicipal:
	default:
		return domain.User{}, ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", opts.Role)}
	}
	if opts.Role == domain.RoleMunicipal && opts.MunicipalityID == "" {
		return domain.User{}, ValidationError{Field: "municipality_id", Message: "required for municipal users"}
	}
	if opts.WorkloadHours == 0 {
		opts.WorkloadHours = 40
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if opts.MunicipalityID != "" {
		if _, err := e.Repo.GetMunicipalityTx(ctx, tx, opts.MunicipalityID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.User{}, ValidationError{Field: "municipality_id", Message: "not found"}
			}
			return domain.User{}, err
		}
	}
	if _, _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, ConflictError{Message: fmt.Sprintf("email %s already registered", opts.Email)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}

	u := domain.User{
		ID:             uuid.New().String(),
		Email:          opts.Email,
		Name:           opts.Name,
		Role:           opts.Role,
		MunicipalityID: optionalString(opts.MunicipalityID),
		Specialties:    opts.Specialties,
		WorkloadHours:  opts.WorkloadHours,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, tx, u, opts.PasswordHash); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeUserRegistered, "", "user", u.ID, opts.ActorID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// MunicipalityCreateOptions are parameters for creating a municipality.
type MunicipalityCreateOptions struct {
	Name         string
	Code         string
	ContactEmail string
	ContactPhone string
	ActorID      string
}

func (e Engine) CreateMunicipality(ctx context.Context, opts MunicipalityCreateOptions) (domain.Municipality, error) {
	if opts.Name == "" {
		return domain.Municipality{}, ValidationError{Field: "name", Message: "required"}
	}
	if opts.Code == "" {
		return domain.Municipality{}, ValidationError{Field: "code", Message: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Municipality{}, err
	}
	defer tx.Rollback()

	m := domain.Municipality{
		ID:                  uuid.New().String(),
		Name:                opts.Name,
		Code:                opts.Code,
		ContactEmail:        opts.ContactEmail,
		ContactPhone:        optionalString(opts.ContactPhone),
		FinancialRegularity: true,
		ActiveStars:         map[string]int{},
		CreatedAt:           e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMunicipality(ctx, tx, m); err != nil {
		return domain.Municipality{}, fmt.Errorf("insert municipality: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeMunicipalityCreated, "", "municipality", m.ID, opts.ActorID, events.EventPayload{"code": m.Code}); err != nil {
		return domain.Municipality{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Municipality{}, err
	}
	return m, nil
}

// EngagementUpdateOptions carries the manager-maintained engagement figures.
type EngagementUpdateOptions struct {
	EngagementScore       float64
	ClarityScore          float64
	MeetingParticipations int
	FinancialRegularity   bool
	ActorID               string
}

func (e Engine) UpdateEngagement(ctx context.Context, municipalityID string, opts EngagementUpdateOptions) (domain.Municipality, error) {
	if opts.EngagementScore < 0 || opts.EngagementScore > 100 {
		return domain.Municipality{}, ValidationError{Field: "engagement_score", Message: "must be 0..100"}
	}
	if opts.ClarityScore < 0 || opts.ClarityScore > 100 {
		return domain.Municipality{}, ValidationError{Field: "clarity_score", Message: "must be 0..100"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Municipality{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMunicipalityTx(ctx, tx, municipalityID)
	if err != nil {
		return domain.Municipality{}, err
	}
	if err := e.Repo.UpdateEngagementTx(ctx, tx, m.ID, opts.EngagementScore, opts.ClarityScore, opts.MeetingParticipations, opts.FinancialRegularity); err != nil {
		return domain.Municipality{}, err
	}
	m.EngagementScore = opts.EngagementScore
	m.ClarityScore = opts.ClarityScore
	m.MeetingParticipations = opts.MeetingParticipations
	m.FinancialRegularity = opts.FinancialRegularity
	if err := e.Events.Append(ctx, tx, events.TypeMunicipalityUpdated, "", "municipality", m.ID, opts.ActorID, events.EventPayload{
		"engagement_score": m.EngagementScore,
	}); err != nil {
		return domain.Municipality{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Municipality{}, err
	}
	return m, nil
}
