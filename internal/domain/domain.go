package domain

// Roles recognized by the portal.
const (
	RoleGestor    = "gestor_amvali"
	RoleTecnico   = "tecnico_amvali"
	RoleMunicipal = "municipal"
)

// Project lifecycle statuses.
const (
	StatusRascunho    = "rascunho"
	StatusSolicitacao = "solicitacao"
	StatusBriefing    = "briefing"
	StatusDiagnostico = "diagnostico"
	StatusValidacao   = "validacao"
	StatusExecucao    = "execucao"
	StatusEntrega     = "entrega"
	StatusConcluido   = "concluido"
	StatusPausado     = "pausado"
)

// Complexity tiers assigned by diagnosis.
const (
	ComplexityMinima = "minima"
	ComplexityMedia  = "media"
	ComplexityAlta   = "alta"
)

// Project types (technical areas).
const (
	TypePavimentacao   = "pavimentacao"
	TypeEdificacao     = "edificacao"
	TypeInfraestrutura = "infraestrutura"
)

// Stage sub-statuses.
const (
	StagePending    = "pending"
	StageInProgress = "in_progress"
	StageCompleted  = "completed"
)

type Stage struct {
	Name        string  `json:"name"`
	Status      string  `json:"status" enum:"pending,in_progress,completed"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Notes       *string `json:"notes,omitempty"`
}

type Project struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ProjectType       string   `json:"project_type" enum:"pavimentacao,edificacao,infraestrutura"`
	MunicipalityID    string   `json:"municipality_id"`
	MunicipalityName  string   `json:"municipality_name"`
	Priority          int      `json:"priority"`
	Complexity        *string  `json:"complexity,omitempty" enum:"minima,media,alta"`
	Status            string   `json:"status"`
	AssignedTeam      []string `json:"assigned_team"`
	Stages            []Stage  `json:"stages"`
	Location          *string  `json:"location,omitempty"`
	Scope             *string  `json:"scope,omitempty"`
	Purpose           *string  `json:"purpose,omitempty"`
	EstimatedDeadline *string  `json:"estimated_deadline,omitempty" format:"date-time"`
	ProgressPercent   float64  `json:"progress_percent"`
	IPRScore          float64  `json:"ipr_score"`
	ImpactScore       int      `json:"impact_score"`
	UrgencyScore      int      `json:"urgency_score"`
	CostScore         int      `json:"cost_score"`
	Documents         []string `json:"documents,omitempty"`
	AIDiagnosis       *string  `json:"ai_diagnosis,omitempty"`
	PausedFrom        *string  `json:"paused_from,omitempty"`
	Version           int64    `json:"version"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

type Municipality struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Code                  string         `json:"code"`
	ContactEmail          string         `json:"contact_email"`
	ContactPhone          *string        `json:"contact_phone,omitempty"`
	EngagementScore       float64        `json:"engagement_score"`
	MeetingParticipations int            `json:"meeting_participations"`
	ClarityScore          float64        `json:"clarity_score"`
	FinancialRegularity   bool           `json:"financial_regularity"`
	TotalProjects         int            `json:"total_projects"`
	CompletedProjects     int            `json:"completed_projects"`
	ActiveStars           map[string]int `json:"active_stars"`
	CreatedAt             string         `json:"created_at" format:"date-time"`
}

type User struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           string   `json:"role" enum:"gestor_amvali,tecnico_amvali,municipal"`
	MunicipalityID *string  `json:"municipality_id,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`
	WorkloadHours  int      `json:"workload_hours"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

// TeamMember is a technician with derived capacity figures.
type TeamMember struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Specialties      []string         `json:"specialties"`
	WorkloadHours    int              `json:"workload_hours"`
	ActiveProjects   int              `json:"active_projects"`
	CapacityPercent  float64          `json:"capacity_percent"`
	AssignedProjects []ProjectSummary `json:"assigned_projects"`
}

// ProjectSummary is the compact project view embedded in team listings.
type ProjectSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
	Status   string `json:"status"`
}

type Notification struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	Title            string  `json:"title"`
	Message          string  `json:"message"`
	NotificationType string  `json:"notification_type"`
	Read             bool    `json:"read"`
	ProjectID        *string `json:"project_id,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidComplexity reports whether v is a known complexity tier.
func ValidComplexity(v string) bool {
	switch v {
	case ComplexityMinima, ComplexityMedia, ComplexityAlta:
		return true
	}
	return false
}

// ValidProjectType reports whether v is a known technical area.
func ValidProjectType(v string) bool {
	switch v {
	case TypePavimentacao, TypeEdificacao, TypeInfraestrutura:
		return true
	}
	return false
}

// ValidStatus reports whether v is a known project status.
func ValidStatus(v string) bool {
	switch v {
	case StatusRascunho, StatusSolicitacao, StatusBriefing, StatusDiagnostico,
		StatusValidacao, StatusExecucao, StatusEntrega, StatusConcluido, StatusPausado:
		return true
	}
	return false
}

// Rankable reports whether the project is eligible for the technical queue:
// in an active review/execution status and already diagnosed.
func (p Project) Rankable() bool {
	if p.Complexity == nil || *p.Complexity == "" {
		return false
	}
	return p.Status == StatusValidacao || p.Status == StatusExecucao
}
