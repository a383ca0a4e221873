package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

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

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("amvali")
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, stubAdvisor{diag: advisor.Diagnosis{Complexity: "media", Confidence: 0.8, Justification: "ok"}})
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func register(t *testing.T, srv *testServer, email, role, municipalityID, actorToken string) (string, UserResponse) {
	t.Helper()
	body := map[string]any{
		"email":    email,
		"password": "segredo123",
		"name":     "User " + email,
		"role":     role,
	}
	if municipalityID != "" {
		body["municipality_id"] = municipalityID
	}
	var headers map[string]string
	if actorToken != "" {
		headers = bearer(actorToken)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/register", body, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, res.StatusCode, string(data))
	}
	var auth AuthResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		t.Fatalf("unmarshal auth: %v", err)
	}
	return auth.Token, auth.User
}

func createMunicipality(t *testing.T, srv *testServer, token, name, code string) domain.Municipality {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/municipalities", map[string]any{
		"name": name,
		"code": code,
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create municipality: %d %s", res.StatusCode, string(data))
	}
	var m domain.Municipality
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal municipality: %v", err)
	}
	return m
}

func createProject(t *testing.T, srv *testServer, token, municipalityID string, priority int) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title":           "Pavimentação da Rua XV",
		"project_type":    "pavimentacao",
		"municipality_id": municipalityID,
		"priority":        priority,
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func TestHealthOpenAndOthersGuarded(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
}

func TestLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, user := register(t, srv, "gestor@amvali.org.br", "gestor_amvali", "", "")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "gestor@amvali.org.br",
		"password": "segredo123",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", res.StatusCode, string(data))
	}
	var auth AuthResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, bearer(auth.Token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me UserResponse
	_ = json.Unmarshal(data, &me)
	if me.ID != user.ID {
		t.Fatalf("expected own profile, got %s vs %s", me.ID, user.ID)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "gestor@amvali.org.br",
		"password": "errada",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on bad password, got %d", res.StatusCode)
	}
}

func TestMunicipalRoleScoping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	gestorToken, _ := register(t, srv, "gestor@amvali.org.br", "gestor_amvali", "", "")
	m1 := createMunicipality(t, srv, gestorToken, "Guaramirim", "GMM")
	m2 := createMunicipality(t, srv, gestorToken, "Schroeder", "SCH")
	municipalToken, _ := register(t, srv, "obras@guaramirim.sc.gov.br", "municipal", m1.ID, "")

	staff := createProject(t, srv, gestorToken, m1.ID, 2)
	if staff.Status != domain.StatusRascunho {
		t.Fatalf("staff-created project should start as rascunho, got %s", staff.Status)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title":        "Creche Municipal",
		"project_type": "edificacao",
		"priority":     3,
	}, bearer(municipalToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("municipal create: %d %s", res.StatusCode, string(data))
	}
	var p domain.Project
	_ = json.Unmarshal(data, &p)
	if p.MunicipalityID != m1.ID {
		t.Fatalf("municipal project must land in own municipality, got %s", p.MunicipalityID)
	}
	if p.Status != domain.StatusSolicitacao {
		t.Fatalf("municipal submission should start as solicitacao, got %s", p.Status)
	}

	// Municipal users cannot create for another municipality.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title":           "Projeto alheio",
		"project_type":    "edificacao",
		"municipality_id": m2.ID,
		"priority":        1,
	}, bearer(municipalToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.StatusCode)
	}

	// Their project list is scoped.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, bearer(municipalToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var list []domain.Project
	_ = json.Unmarshal(data, &list)
	for _, item := range list {
		if item.MunicipalityID != m1.ID {
			t.Fatalf("leaked project from municipality %s", item.MunicipalityID)
		}
	}

	// Stage updates are off-limits for the municipal role.
	res, _ = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/projects/"+p.ID+"/stages/0", map[string]any{
		"status": "completed",
	}, bearer(municipalToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on stage update, got %d", res.StatusCode)
	}
}

func TestQueueAndDiagnosisFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	gestorToken, _ := register(t, srv, "gestor@amvali.org.br", "gestor_amvali", "", "")
	m := createMunicipality(t, srv, gestorToken, "Massaranduba", "MSD")
	p := createProject(t, srv, gestorToken, m.ID, 2)

	// Undiagnosed projects never enter the queue.
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/queue", nil, bearer(gestorToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue: %d %s", res.StatusCode, string(data))
	}
	var queue []domain.Project
	_ = json.Unmarshal(data, &queue)
	if len(queue) != 0 {
		t.Fatalf("expected empty queue, got %d", len(queue))
	}

	// Walk to validacao: complete stages 0..2.
	for i := 0; i < 3; i++ {
		if i > 0 {
			res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/projects/"+p.ID+"/stages/"+strconv.Itoa(i), map[string]any{
				"status": "in_progress",
			}, bearer(gestorToken))
			if res.StatusCode != http.StatusOK {
				t.Fatalf("start stage %d: %d %s", i, res.StatusCode, string(data))
			}
		}
		res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/projects/"+p.ID+"/stages/"+strconv.Itoa(i), map[string]any{
			"status": "completed",
		}, bearer(gestorToken))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("complete stage %d: %d %s", i, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ai/diagnose-complexity", map[string]any{
		"project_id": p.ID,
	}, bearer(gestorToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("diagnose: %d %s", res.StatusCode, string(data))
	}
	var diag advisor.Diagnosis
	_ = json.Unmarshal(data, &diag)
	if diag.Complexity != "media" {
		t.Fatalf("expected media, got %s", diag.Complexity)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/queue", nil, bearer(gestorToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue after diagnosis: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &queue)
	if len(queue) != 1 || queue[0].ID != p.ID {
		t.Fatalf("expected diagnosed project in queue, got %d entries", len(queue))
	}
}

func TestAllocationWarnings(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	gestorToken, _ := register(t, srv, "gestor@amvali.org.br", "gestor_amvali", "", "")
	m := createMunicipality(t, srv, gestorToken, "Corupá", "CRP")
	p := createProject(t, srv, gestorToken, m.ID, 2)

	// Staff-created projects start as drafts; only active projects count
	// against capacity, so move the draft into the pipeline first.
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/projects/"+p.ID+"/stages/0", map[string]any{
		"status": "in_progress",
	}, bearer(gestorToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start stage 0: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/register", map[string]any{
		"email":          "tecnico@amvali.org.br",
		"password":       "segredo123",
		"name":           "Téc Sobrecarregado",
		"role":           "tecnico_amvali",
		"workload_hours": 8,
	}, bearer(gestorToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register technician: %d %s", res.StatusCode, string(data))
	}
	var techAuth AuthResponse
	_ = json.Unmarshal(data, &techAuth)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/team/allocate", map[string]any{
		"project_id": p.ID,
		"user_ids":   []string{techAuth.User.ID},
	}, bearer(gestorToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("allocate: %d %s", res.StatusCode, string(data))
	}
	var result struct {
		Project  domain.Project `json:"project"`
		Warnings []struct {
			UserID          string  `json:"user_id"`
			CapacityPercent float64 `json:"capacity_percent"`
		} `json:"warnings"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].UserID != techAuth.User.ID {
		t.Fatalf("expected capacity warning, got %s", string(data))
	}

	// Technicians cannot allocate.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/team/allocate", map[string]any{
		"project_id": p.ID,
		"user_ids":   []string{techAuth.User.ID},
	}, bearer(techAuth.Token))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for technician allocate, got %d", res.StatusCode)
	}
}

func TestAdvisorOutageReturns503(t *testing.T) {
	srv2, cleanup2 := newFailingAdvisorServer(t)
	defer cleanup2()
	token2, _ := register(t, srv2, "gestor@amvali.org.br", "gestor_amvali", "", "")
	m2 := createMunicipality(t, srv2, token2, "Barra Velha", "BVL")
	p2 := createProject(t, srv2, token2, m2.ID, 2)

	res, data := doJSON(t, srv2.Client(), http.MethodPost, srv2.URL+"/v1/ai/diagnose-complexity", map[string]any{
		"project_id": p2.ID,
	}, bearer(token2))
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "dependency_unavailable" {
		t.Fatalf("expected dependency_unavailable, got %s", envelope.Error.Code)
	}

	// Complexity stays unset.
	res, data = doJSON(t, srv2.Client(), http.MethodGet, srv2.URL+"/v1/projects/"+p2.ID, nil, bearer(token2))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d", res.StatusCode)
	}
	var fetched domain.Project
	_ = json.Unmarshal(data, &fetched)
	if fetched.Complexity != nil {
		t.Fatalf("complexity must stay unset, got %v", *fetched.Complexity)
	}
}

func newFailingAdvisorServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("amvali")
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, stubAdvisor{err: advisor.UnavailableError{Reason: "backend down"}})
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}
