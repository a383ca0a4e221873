package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"amvali/internal/advisor"
	"amvali/internal/domain"
	"amvali/internal/engine"
	"amvali/internal/engine/authz"
	"amvali/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission team.allocate required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the stable error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the portal API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("AMVALI Portal API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	checker := authz.NewChecker(cfg.Engine.Config)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerMunicipalities(group, cfg.Engine, checker)
	registerProjects(group, cfg.Engine, checker)
	registerQueue(group, cfg.Engine, checker)
	registerTeam(group, cfg.Engine, checker)
	registerDashboard(group, cfg.Engine, checker)
	registerNotifications(group, cfg.Engine, checker)
	registerDiagnosis(group, cfg.Engine, checker)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe authz.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var ue advisor.UnavailableError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusServiceUnavailable, "dependency_unavailable", err.Error(), map[string]any{"retryable": true})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "dependency_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requirePermission(ctx context.Context, checker authz.Checker, perm string) (Principal, huma.StatusError) {
	principal, authErr := requirePrincipal(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := checker.Allow(principal.Role, perm); err != nil {
		return Principal{}, handleError(err)
	}
	return principal, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):        true,
		path.Join(basePath, "auth/login"):    true,
		path.Join(basePath, "auth/register"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>AMVALI Portal API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMunicipalities(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-municipality",
		Method:        http.MethodPost,
		Path:          "/municipalities",
		Summary:       "Create municipality",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateMunicipalityRequest `json:"body"`
	}) (*struct {
		Body domain.Municipality `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "municipality.create")
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMunicipality(ctx, engine.MunicipalityCreateOptions{
			Name:         input.Body.Name,
			Code:         input.Body.Code,
			ContactEmail: input.Body.ContactEmail,
			ContactPhone: input.Body.ContactPhone,
			ActorID:      principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Municipality `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-municipalities",
		Method:      http.MethodGet,
		Path:        "/municipalities",
		Summary:     "List municipalities",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Municipality `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, checker, "municipality.read"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListMunicipalities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Municipality{}
		}
		return &struct {
			Body []domain.Municipality `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-municipality",
		Method:      http.MethodGet,
		Path:        "/municipalities/{municipality_id}",
		Summary:     "Get municipality",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MunicipalityID string `path:"municipality_id"`
	}) (*struct {
		Body domain.Municipality `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, checker, "municipality.read"); authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetMunicipality(ctx, input.MunicipalityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Municipality `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-engagement",
		Method:      http.MethodPut,
		Path:        "/municipalities/{municipality_id}/engagement",
		Summary:     "Update engagement figures",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		MunicipalityID string            `path:"municipality_id"`
		Body           EngagementRequest `json:"body"`
	}) (*struct {
		Body domain.Municipality `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "municipality.update")
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateEngagement(ctx, input.MunicipalityID, engine.EngagementUpdateOptions{
			EngagementScore:       input.Body.EngagementScore,
			ClarityScore:          input.Body.ClarityScore,
			MeetingParticipations: input.Body.MeetingParticipations,
			FinancialRegularity:   input.Body.FinancialRegularity,
			ActorID:               principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Municipality `json:"body"`
		}{Body: m}, nil
	})
}

// scopedMunicipality resolves the municipality a municipal user may act on.
func scopedMunicipality(principal Principal, requested string) (string, huma.StatusError) {
	if principal.Role != domain.RoleMunicipal {
		return requested, nil
	}
	if principal.MunicipalityID == "" {
		return "", newAPIError(http.StatusForbidden, "forbidden", "municipal user without municipality", nil)
	}
	if requested != "" && requested != principal.MunicipalityID {
		return "", newAPIError(http.StatusForbidden, "forbidden", "restricted to own municipality", nil)
	}
	return principal.MunicipalityID, nil
}

func registerProjects(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Submit a project request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.create")
		if authErr != nil {
			return nil, authErr
		}
		municipalityID, authErr := scopedMunicipality(principal, input.Body.MunicipalityID)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Title:             input.Body.Title,
			Description:       input.Body.Description,
			ProjectType:       input.Body.ProjectType,
			MunicipalityID:    municipalityID,
			Priority:          input.Body.Priority,
			ImpactScore:       input.Body.ImpactScore,
			UrgencyScore:      input.Body.UrgencyScore,
			CostScore:         input.Body.CostScore,
			Location:          input.Body.Location,
			Scope:             input.Body.Scope,
			Purpose:           input.Body.Purpose,
			EstimatedDeadline: input.Body.EstimatedDeadline,
			ActorID:           principal.UserID,
			ActorRole:         principal.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		MunicipalityID string `query:"municipality_id"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.read")
		if authErr != nil {
			return nil, authErr
		}
		municipalityID, authErr := scopedMunicipality(principal, input.MunicipalityID)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, municipalityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.read")
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := scopedMunicipality(principal, p.MunicipalityID); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project fields",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.update")
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, updateOptions(input.Body, principal.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stage",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/stages/{stage_index}",
		Summary:     "Advance a project stage",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID  string             `path:"project_id"`
		StageIndex int                `path:"stage_index"`
		Body       StageUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.stage.update")
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateStage(ctx, input.ProjectID, input.StageIndex, engine.StageUpdateOptions{
			Status:  input.Body.Status,
			Notes:   input.Body.Notes,
			ActorID: principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/pause",
		Summary:     "Pause a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.pause")
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.PauseProject(ctx, input.ProjectID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/resume",
		Summary:     "Resume a paused project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "project.pause")
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ResumeProject(ctx, input.ProjectID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID: "queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Ranked technical queue",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, checker, "queue.read"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Queue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: mapProjects(items)}, nil
	})
}

func registerTeam(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID: "team",
		Method:      http.MethodGet,
		Path:        "/team",
		Summary:     "Technicians with capacity figures",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, checker, "team.read"); authErr != nil {
			return nil, authErr
		}
		members, err := e.Team(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if members == nil {
			members = []domain.TeamMember{}
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: members}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allocate-team",
		Method:      http.MethodPost,
		Path:        "/team/allocate",
		Summary:     "Allocate technicians to a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body AllocateRequest `json:"body"`
	}) (*struct {
		Body engine.AllocationResult `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "team.allocate")
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AllocateTeam(ctx, input.Body.ProjectID, engine.AllocateOptions{
			UserIDs: input.Body.UserIDs,
			ActorID: principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res.Project = projectResponse(res.Project)
		if res.Warnings == nil {
			res.Warnings = []engine.CapacityWarning{}
		}
		return &struct {
			Body engine.AllocationResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "Portal-wide dashboard",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DashboardStats `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "dashboard.read")
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role == domain.RoleMunicipal {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "restricted to own municipality dashboard", nil)
		}
		stats, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DashboardStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "municipality-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard/municipality/{municipality_id}",
		Summary:     "Per-municipality dashboard",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MunicipalityID string `path:"municipality_id"`
	}) (*struct {
		Body engine.MunicipalityDashboard `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "dashboard.read")
		if authErr != nil {
			return nil, authErr
		}
		municipalityID, authErr := scopedMunicipality(principal, input.MunicipalityID)
		if authErr != nil {
			return nil, authErr
		}
		dash, err := e.MunicipalityStats(ctx, municipalityID)
		if err != nil {
			return nil, handleError(err)
		}
		dash.Projects = mapProjects(dash.Projects)
		return &struct {
			Body engine.MunicipalityDashboard `json:"body"`
		}{Body: dash}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID: "notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List own notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "notification.read")
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPut,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "notification.read")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID, principal.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "read"}}, nil
	})
}

func registerDiagnosis(api huma.API, e engine.Engine, checker authz.Checker) {
	huma.Register(api, huma.Operation{
		OperationID: "diagnose-complexity",
		Method:      http.MethodPost,
		Path:        "/ai/diagnose-complexity",
		Summary:     "Diagnose project complexity",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body DiagnoseRequest `json:"body"`
	}) (*struct {
		Body advisor.Diagnosis `json:"body"`
	}, error) {
		principal, authErr := requirePermission(ctx, checker, "diagnosis.run")
		if authErr != nil {
			return nil, authErr
		}
		diag, err := e.Diagnose(ctx, engine.DiagnoseOptions{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ProjectType: input.Body.ProjectType,
			Location:    input.Body.Location,
			Scope:       input.Body.Scope,
			Purpose:     input.Body.Purpose,
			ActorID:     principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if diag.Recommendations == nil {
			diag.Recommendations = []string{}
		}
		return &struct {
			Body advisor.Diagnosis `json:"body"`
		}{Body: diag}, nil
	})
}
