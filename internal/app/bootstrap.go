package app

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"amvali/internal/config"
	"amvali/internal/domain"
	"amvali/internal/engine"
)

// ResolveConfig loads amvali.yml from the workspace, falling back to the
// built-in defaults when the file does not exist. An invalid file is an
// error, not a fallback.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("AMVALI")
	}
	return cfg, nil
}

type seedUser struct {
	email        string
	password     string
	name         string
	role         string
	municipality string
	specialties  []string
}

type seedProject struct {
	title        string
	projectType  string
	municipality string
	priority     int
	impact       int
	urgency      int
	cost         int
	location     string
}

// Seed loads a demo dataset: the AMVALI municipalities, a manager, two
// technicians, one municipal requester and a handful of projects. It is a
// no-op when municipalities already exist.
func Seed(ctx context.Context, e engine.Engine, actorID string) error {
	count, err := e.Repo.CountMunicipalities(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	municipalities := []struct{ name, code string }{
		{"Jaraguá do Sul", "JGS"},
		{"Guaramirim", "GRM"},
		{"Massaranduba", "MSD"},
		{"Schroeder", "SCH"},
		{"Corupá", "CRP"},
		{"Barra Velha", "BVL"},
		{"São João do Itaperiú", "SJI"},
	}
	ids := map[string]string{}
	for _, m := range municipalities {
		created, err := e.CreateMunicipality(ctx, engine.MunicipalityCreateOptions{
			Name:         m.name,
			Code:         m.code,
			ContactEmail: fmt.Sprintf("contato@%s.sc.gov.br", m.code),
			ActorID:      actorID,
		})
		if err != nil {
			return fmt.Errorf("seed municipality %s: %w", m.name, err)
		}
		ids[m.code] = created.ID
	}

	users := []seedUser{
		{"gestor@amvali.org.br", "amvali123", "Gestor AMVALI", domain.RoleGestor, "", nil},
		{"tecnico.pav@amvali.org.br", "amvali123", "Técnico Pavimentação", domain.RoleTecnico, "", []string{domain.TypePavimentacao}},
		{"tecnico.edi@amvali.org.br", "amvali123", "Técnico Edificação", domain.RoleTecnico, "", []string{domain.TypeEdificacao, domain.TypeInfraestrutura}},
		{"prefeitura@jaraguadosul.sc.gov.br", "amvali123", "Secretaria de Obras JGS", domain.RoleMunicipal, ids["JGS"], nil},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := e.RegisterUser(ctx, engine.UserCreateOptions{
			Email:          u.email,
			PasswordHash:   string(hash),
			Name:           u.name,
			Role:           u.role,
			MunicipalityID: u.municipality,
			Specialties:    u.specialties,
			ActorID:        actorID,
		}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.email, err)
		}
	}

	projects := []seedProject{
		{"Pavimentação Rua das Palmeiras", domain.TypePavimentacao, ids["JGS"], 4, 4, 5, 3, "Bairro Centenário"},
		{"Reforma da Escola Municipal", domain.TypeEdificacao, ids["GRM"], 3, 5, 3, 4, "Centro"},
		{"Drenagem Avenida Principal", domain.TypeInfraestrutura, ids["MSD"], 5, 5, 5, 2, "Zona Norte"},
		{"Quadra Coberta do Bairro Rio Hern", domain.TypeEdificacao, ids["SCH"], 2, 3, 2, 4, "Rio Hern"},
	}
	for _, p := range projects {
		if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Title:          p.title,
			ProjectType:    p.projectType,
			MunicipalityID: p.municipality,
			Priority:       p.priority,
			ImpactScore:    p.impact,
			UrgencyScore:   p.urgency,
			CostScore:      p.cost,
			Location:       p.location,
			ActorID:        actorID,
			ActorRole:      domain.RoleMunicipal,
		}); err != nil {
			return fmt.Errorf("seed project %s: %w", p.title, err)
		}
	}
	return nil
}
