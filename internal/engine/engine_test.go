package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"amvali/internal/advisor"
	"amvali/internal/config"
	"amvali/internal/db"
	"amvali/internal/domain"
	"amvali/internal/engine"
	"amvali/internal/migrate"
)

type stubAdvisor struct {
	diag advisor.Diagnosis
	err  error
}

func (s stubAdvisor) Diagnose(ctx context.Context, req advisor.Request) (advisor.Diagnosis, error) {
	return s.diag, s.err
}

type testEnv struct {
	Engine         engine.Engine
	Ctx            context.Context
	MunicipalityID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("amvali")
	eng := engine.New(conn, cfg, stubAdvisor{diag: advisor.Diagnosis{Complexity: "media", Confidence: 0.9, Justification: "ok"}})
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	m, err := eng.CreateMunicipality(ctx, engine.MunicipalityCreateOptions{
		Name:         "Jaraguá do Sul",
		Code:         "JGS",
		ContactEmail: "obras@jaragua.sc.gov.br",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create municipality: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, MunicipalityID: m.ID}
}

// createProject submits as a municipal requester, so the project enters
// the pipeline immediately.
func (env *testEnv) createProject(t *testing.T, priority int, projectType string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Title:          "Obra de teste",
		Description:    "desc",
		ProjectType:    projectType,
		MunicipalityID: env.MunicipalityID,
		Priority:       priority,
		ActorID:        "tester",
		ActorRole:      domain.RoleMunicipal,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env *testEnv) registerTechnician(t *testing.T, email string, workloadHours int) domain.User {
	t.Helper()
	u, err := env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		Email:         email,
		PasswordHash:  "x",
		Name:          "Téc " + email,
		Role:          domain.RoleTecnico,
		WorkloadHours: workloadHours,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("register technician: %v", err)
	}
	return u
}

func TestCreateProjectSeedsStagesAndStars(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, 3, domain.TypePavimentacao)

	if len(p.Stages) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(p.Stages))
	}
	if p.Stages[0].Status != domain.StageInProgress {
		t.Fatalf("first stage should be in_progress, got %s", p.Stages[0].Status)
	}
	if p.Status != domain.StatusSolicitacao {
		t.Fatalf("expected status solicitacao, got %s", p.Status)
	}
	if p.IPRScore != 0 {
		t.Fatalf("undiagnosed project should have zero ipr, got %v", p.IPRScore)
	}
	m, err := env.Engine.Repo.GetMunicipality(env.Ctx, env.MunicipalityID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ActiveStars[domain.TypePavimentacao] != 3 {
		t.Fatalf("expected 3 active stars, got %d", m.ActiveStars[domain.TypePavimentacao])
	}
	if m.TotalProjects != 1 {
		t.Fatalf("expected total_projects 1, got %d", m.TotalProjects)
	}
}

func TestStarCapPerArea(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, 3, domain.TypePavimentacao)
	env.createProject(t, 2, domain.TypePavimentacao)

	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Title:          "Uma a mais",
		ProjectType:    domain.TypePavimentacao,
		MunicipalityID: env.MunicipalityID,
		Priority:       1,
		ActorID:        "tester",
		ActorRole:      domain.RoleMunicipal,
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on star cap, got %v", err)
	}

	// Other areas are unaffected.
	env.createProject(t, 1, domain.TypeEdificacao)
}

func TestSimultaneousLimitByPriority(t *testing.T) {
	env := newTestEnv(t)
	// Priority 5 allows one active project; a second one in another area
	// passes the star cap but hits the simultaneous limit.
	env.createProject(t, 5, domain.TypePavimentacao)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Title:          "Segunda urgente",
		ProjectType:    domain.TypeEdificacao,
		MunicipalityID: env.MunicipalityID,
		Priority:       5,
		ActorID:        "tester",
		ActorRole:      domain.RoleMunicipal,
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on simultaneous limit, got %v", err)
	}
}

func completeAllStages(t *testing.T, env *testEnv, projectID string) domain.Project {
	t.Helper()
	var p domain.Project
	var err error
	for i := 0; i < 6; i++ {
		if i > 0 {
			if _, err = env.Engine.UpdateStage(env.Ctx, projectID, i, engine.StageUpdateOptions{Status: domain.StageInProgress, ActorID: "tester"}); err != nil {
				t.Fatalf("start stage %d: %v", i, err)
			}
		}
		if p, err = env.Engine.UpdateStage(env.Ctx, projectID, i, engine.StageUpdateOptions{Status: domain.StageCompleted, ActorID: "tester"}); err != nil {
			t.Fatalf("complete stage %d: %v", i, err)
		}
	}
	return p
}

func TestStageFlowToConcluido(t *testing.T) {
	env := newTestEnv(t)
	created := env.createProject(t, 2, domain.TypeInfraestrutura)

	p, err := env.Engine.UpdateStage(env.Ctx, created.ID, 0, engine.StageUpdateOptions{Status: domain.StageCompleted, ActorID: "tester"})
	if err != nil {
		t.Fatalf("complete stage 0: %v", err)
	}
	if p.Status != domain.StatusBriefing {
		t.Fatalf("expected briefing after stage 0, got %s", p.Status)
	}
	if want := 100.0 / 6; p.ProgressPercent < want-0.01 || p.ProgressPercent > want+0.01 {
		t.Fatalf("expected progress ~%.2f, got %.2f", want, p.ProgressPercent)
	}

	// Jumping ahead is blocked until earlier stages are done.
	if _, err := env.Engine.UpdateStage(env.Ctx, created.ID, 3, engine.StageUpdateOptions{Status: domain.StageInProgress, ActorID: "tester"}); err == nil {
		t.Fatal("expected block on skipping stages")
	}

	p = completeAllStages(t, env, created.ID)
	if p.Status != domain.StatusConcluido {
		t.Fatalf("expected concluido, got %s", p.Status)
	}
	if p.ProgressPercent != 100 {
		t.Fatalf("expected 100%% progress, got %v", p.ProgressPercent)
	}

	m, err := env.Engine.Repo.GetMunicipality(env.Ctx, env.MunicipalityID)
	if err != nil {
		t.Fatal(err)
	}
	if m.CompletedProjects != 1 {
		t.Fatalf("expected completed_projects 1, got %d", m.CompletedProjects)
	}
	if m.ActiveStars[domain.TypeInfraestrutura] != 0 {
		t.Fatalf("expected stars released, got %d", m.ActiveStars[domain.TypeInfraestrutura])
	}

	// Concluded is terminal.
	if _, err := env.Engine.PauseProject(env.Ctx, created.ID, "tester"); err == nil {
		t.Fatal("expected pause of concluded project to fail")
	}
}

func TestPauseResumeRestoresStatus(t *testing.T) {
	env := newTestEnv(t)
	created := env.createProject(t, 2, domain.TypeEdificacao)
	if _, err := env.Engine.UpdateStage(env.Ctx, created.ID, 0, engine.StageUpdateOptions{Status: domain.StageCompleted, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	p, err := env.Engine.PauseProject(env.Ctx, created.ID, "tester")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if p.Status != domain.StatusPausado || p.PausedFrom == nil || *p.PausedFrom != domain.StatusBriefing {
		t.Fatalf("expected pausado from briefing, got %s / %v", p.Status, p.PausedFrom)
	}

	// Stage updates are blocked while paused.
	if _, err := env.Engine.UpdateStage(env.Ctx, created.ID, 1, engine.StageUpdateOptions{Status: domain.StageInProgress, ActorID: "tester"}); err == nil {
		t.Fatal("expected stage update to fail while paused")
	}

	p, err = env.Engine.ResumeProject(env.Ctx, created.ID, "tester")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if p.Status != domain.StatusBriefing || p.PausedFrom != nil {
		t.Fatalf("expected briefing restored, got %s / %v", p.Status, p.PausedFrom)
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestUpdateProjectRecomputesIPR(t *testing.T) {
	env := newTestEnv(t)
	created := env.createProject(t, 4, domain.TypePavimentacao)

	p, err := env.Engine.UpdateProject(env.Ctx, created.ID, engine.ProjectUpdateOptions{
		ImpactScore:  intPtr(5),
		UrgencyScore: intPtr(5),
		CostScore:    intPtr(5),
		Complexity:   strPtr(domain.ComplexityMedia),
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.IPRScore != 6 {
		t.Fatalf("expected ipr 6, got %v", p.IPRScore)
	}
	if p.Version != created.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", created.Version+1, p.Version)
	}

	// A write against the old version loses.
	_, err = env.Engine.UpdateProject(env.Ctx, created.ID, engine.ProjectUpdateOptions{
		ImpactScore: intPtr(1),
		Version:     created.Version,
		ActorID:     "tester",
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestQueueExcludesUndiagnosed(t *testing.T) {
	env := newTestEnv(t)
	a := env.createProject(t, 2, domain.TypePavimentacao)
	b := env.createProject(t, 2, domain.TypeEdificacao)

	// Walk both to validacao (stages 0..2 completed).
	for _, id := range []string{a.ID, b.ID} {
		for i := 0; i < 3; i++ {
			if i > 0 {
				if _, err := env.Engine.UpdateStage(env.Ctx, id, i, engine.StageUpdateOptions{Status: domain.StageInProgress, ActorID: "tester"}); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := env.Engine.UpdateStage(env.Ctx, id, i, engine.StageUpdateOptions{Status: domain.StageCompleted, ActorID: "tester"}); err != nil {
				t.Fatal(err)
			}
		}
	}

	// Only b gets diagnosed.
	if _, err := env.Engine.UpdateProject(env.Ctx, b.ID, engine.ProjectUpdateOptions{
		Complexity: strPtr(domain.ComplexityAlta),
		ActorID:    "tester",
	}); err != nil {
		t.Fatal(err)
	}

	queue, err := env.Engine.Queue(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != b.ID {
		t.Fatalf("expected only diagnosed project in queue, got %d entries", len(queue))
	}
}

func TestAllocateTeamWarningsAndIdempotence(t *testing.T) {
	env := newTestEnv(t)
	created := env.createProject(t, 2, domain.TypePavimentacao)
	// 8h workload with 8h per project: one assignment is already 100%.
	overloaded := env.registerTechnician(t, "sobrecarga@amvali.org.br", 8)
	relaxed := env.registerTechnician(t, "tranquilo@amvali.org.br", 40)

	res, err := env.Engine.AllocateTeam(env.Ctx, created.ID, engine.AllocateOptions{
		UserIDs: []string{overloaded.ID, relaxed.ID},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].UserID != overloaded.ID {
		t.Fatalf("expected one warning for overloaded tech, got %+v", res.Warnings)
	}
	if res.Warnings[0].CapacityPercent != 100 {
		t.Fatalf("expected 100%% capacity, got %v", res.Warnings[0].CapacityPercent)
	}

	// Same set again: same outcome, no duplicates.
	res2, err := env.Engine.AllocateTeam(env.Ctx, created.ID, engine.AllocateOptions{
		UserIDs: []string{overloaded.ID, relaxed.ID},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("re-allocate: %v", err)
	}
	if len(res2.Project.AssignedTeam) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(res2.Project.AssignedTeam))
	}

	// Reallocation replaces the set.
	res3, err := env.Engine.AllocateTeam(env.Ctx, created.ID, engine.AllocateOptions{
		UserIDs: []string{relaxed.ID},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("shrink allocation: %v", err)
	}
	if len(res3.Project.AssignedTeam) != 1 || res3.Project.AssignedTeam[0] != relaxed.ID {
		t.Fatalf("expected single assignment, got %+v", res3.Project.AssignedTeam)
	}

	// Non-technicians cannot be allocated.
	gestor, err := env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		Email:        "gestor@amvali.org.br",
		PasswordHash: "x",
		Name:         "Gestor",
		Role:         domain.RoleGestor,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AllocateTeam(env.Ctx, created.ID, engine.AllocateOptions{
		UserIDs: []string{gestor.ID},
		ActorID: "tester",
	}); err == nil {
		t.Fatal("expected rejection of non-technician")
	}
}

func TestDiagnosePersistsVerdict(t *testing.T) {
	env := newTestEnv(t)
	created := env.createProject(t, 3, domain.TypeInfraestrutura)

	diag, err := env.Engine.Diagnose(env.Ctx, engine.DiagnoseOptions{ProjectID: created.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if diag.Complexity != domain.ComplexityMedia {
		t.Fatalf("expected media, got %s", diag.Complexity)
	}
	p, err := env.Engine.GetProject(env.Ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Complexity == nil || *p.Complexity != domain.ComplexityMedia {
		t.Fatalf("expected persisted complexity, got %v", p.Complexity)
	}
	// (3*3 + 3*2 + 3*1) / 5
	if p.IPRScore != 3.6 {
		t.Fatalf("expected ipr 3.6, got %v", p.IPRScore)
	}
}

func TestDiagnoseFailureLeavesComplexityUnset(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Advisor = stubAdvisor{err: advisor.UnavailableError{Reason: "down"}}
	created := env.createProject(t, 3, domain.TypeInfraestrutura)

	_, err := env.Engine.Diagnose(env.Ctx, engine.DiagnoseOptions{ProjectID: created.ID, ActorID: "tester"})
	var unavailable advisor.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	p, err := env.Engine.GetProject(env.Ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Complexity != nil {
		t.Fatalf("complexity must stay unset after advisor failure, got %v", *p.Complexity)
	}
	if p.IPRScore != 0 {
		t.Fatalf("ipr must stay zero, got %v", p.IPRScore)
	}
}

func TestStatsAggregates(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, 2, domain.TypePavimentacao)
	p := env.createProject(t, 2, domain.TypeEdificacao)
	completeAllStages(t, env, p.ID)
	env.registerTechnician(t, "tecnico@amvali.org.br", 40)

	stats, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalProjects != 2 {
		t.Fatalf("expected 2 projects, got %d", stats.TotalProjects)
	}
	if stats.ProjectsByStatus[domain.StatusConcluido] != 1 {
		t.Fatalf("expected 1 concluded, got %d", stats.ProjectsByStatus[domain.StatusConcluido])
	}
	if stats.Municipalities != 1 {
		t.Fatalf("expected 1 municipality, got %d", stats.Municipalities)
	}
	if stats.TeamSize != 1 {
		t.Fatalf("expected team size 1, got %d", stats.TeamSize)
	}
}

func TestStaffDraftsStartAsRascunho(t *testing.T) {
	env := newTestEnv(t)
	draft, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Title:          "Rascunho interno",
		ProjectType:    domain.TypePavimentacao,
		MunicipalityID: env.MunicipalityID,
		Priority:       5,
		ActorID:        "tester",
		ActorRole:      domain.RoleGestor,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.Status != domain.StatusRascunho {
		t.Fatalf("expected rascunho, got %s", draft.Status)
	}
	for i, s := range draft.Stages {
		if s.Status != domain.StagePending || s.StartedAt != nil {
			t.Fatalf("stage %d of a draft should be untouched, got %s", i, s.Status)
		}
	}

	// Priority 5 allows a single active project; the draft above does not
	// consume that slot.
	if _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Title:          "Submissão direta",
		ProjectType:    domain.TypeEdificacao,
		MunicipalityID: env.MunicipalityID,
		Priority:       5,
		ActorID:        "tester",
		ActorRole:      domain.RoleMunicipal,
	}); err != nil {
		t.Fatalf("draft must not occupy a priority slot: %v", err)
	}

	// The first stage action moves the draft into the pipeline.
	p, err := env.Engine.UpdateStage(env.Ctx, draft.ID, 0, engine.StageUpdateOptions{Status: domain.StageInProgress, ActorID: "tester"})
	if err != nil {
		t.Fatalf("start stage 0: %v", err)
	}
	if p.Status != domain.StatusSolicitacao {
		t.Fatalf("expected solicitacao after first stage action, got %s", p.Status)
	}
}

func (env *testEnv) teamCapacity(t *testing.T, userID string) float64 {
	t.Helper()
	team, err := env.Engine.Team(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range team {
		if m.ID == userID {
			return m.CapacityPercent
		}
	}
	t.Fatalf("technician %s not in team listing", userID)
	return 0
}

func TestDeallocationRestoresCapacity(t *testing.T) {
	env := newTestEnv(t)
	created := env.createProject(t, 2, domain.TypePavimentacao)
	tech := env.registerTechnician(t, "rotativo@amvali.org.br", 40)

	baseline := env.teamCapacity(t, tech.ID)
	if baseline != 0 {
		t.Fatalf("fresh technician should be at 0%%, got %v", baseline)
	}

	if _, err := env.Engine.AllocateTeam(env.Ctx, created.ID, engine.AllocateOptions{
		UserIDs: []string{tech.ID},
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// One project at 8h against a 40h workload.
	if got := env.teamCapacity(t, tech.ID); got != 20 {
		t.Fatalf("expected 20%% while assigned, got %v", got)
	}

	if _, err := env.Engine.AllocateTeam(env.Ctx, created.ID, engine.AllocateOptions{
		UserIDs: []string{},
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("deallocate: %v", err)
	}
	if got := env.teamCapacity(t, tech.ID); got != baseline {
		t.Fatalf("capacity not restored: baseline %v, got %v", baseline, got)
	}
}

func TestConcurrentAllocationsCountEveryAssignment(t *testing.T) {
	env := newTestEnv(t)
	a := env.createProject(t, 2, domain.TypePavimentacao)
	b := env.createProject(t, 2, domain.TypeEdificacao)
	shared := env.registerTechnician(t, "disputado@amvali.org.br", 40)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(projectID string) {
			defer wg.Done()
			_, err := env.Engine.AllocateTeam(env.Ctx, projectID, engine.AllocateOptions{
				UserIDs: []string{shared.ID},
				ActorID: "tester",
			})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}

	active, err := env.Engine.Repo.CountActiveAssignments(env.Ctx, shared.ID)
	if err != nil {
		t.Fatal(err)
	}
	if active != 2 {
		t.Fatalf("expected 2 active assignments, got %d", active)
	}
}

func TestUpdateEngagementAcceptsPercentScale(t *testing.T) {
	env := newTestEnv(t)

	m, err := env.Engine.UpdateEngagement(env.Ctx, env.MunicipalityID, engine.EngagementUpdateOptions{
		EngagementScore:       87.5,
		ClarityScore:          62,
		MeetingParticipations: 4,
		FinancialRegularity:   true,
		ActorID:               "tester",
	})
	if err != nil {
		t.Fatalf("update engagement: %v", err)
	}
	if m.EngagementScore != 87.5 || m.ClarityScore != 62 {
		t.Fatalf("scores not persisted: %v / %v", m.EngagementScore, m.ClarityScore)
	}

	var invalid engine.ValidationError
	if _, err := env.Engine.UpdateEngagement(env.Ctx, env.MunicipalityID, engine.EngagementUpdateOptions{
		EngagementScore: 100.5,
		ActorID:         "tester",
	}); !errors.As(err, &invalid) {
		t.Fatalf("expected rejection above 100, got %v", err)
	}
	if _, err := env.Engine.UpdateEngagement(env.Ctx, env.MunicipalityID, engine.EngagementUpdateOptions{
		ClarityScore: -1,
		ActorID:      "tester",
	}); !errors.As(err, &invalid) {
		t.Fatalf("expected rejection below 0, got %v", err)
	}
}
