package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models amvali.yml.
type Config struct {
	Portal struct {
		Name string `yaml:"name"`
	} `yaml:"portal"`
	Scoring struct {
		Weights struct {
			Impact  int `yaml:"impact"`
			Urgency int `yaml:"urgency"`
			Cost    int `yaml:"cost"`
		} `yaml:"weights"`
		Divisors map[string]float64 `yaml:"divisors"`
	} `yaml:"scoring"`
	Capacity struct {
		HoursPerProject int     `yaml:"hours_per_project"`
		WarnPercent     float64 `yaml:"warn_percent"`
	} `yaml:"capacity"`
	Limits struct {
		MaxStarsPerArea        int         `yaml:"max_stars_per_area"`
		SimultaneousByPriority map[int]int `yaml:"simultaneous_by_priority"`
	} `yaml:"limits"`
	Stages []string `yaml:"stages"`
	Advisor struct {
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"advisor"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Auth struct {
		TokenTTLHours int `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with amvali config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Portal.Name == "" {
		return fmt.Errorf("config.portal.name is required")
	}
	if c.Scoring.Weights.Impact <= 0 || c.Scoring.Weights.Urgency <= 0 || c.Scoring.Weights.Cost <= 0 {
		return fmt.Errorf("config.scoring.weights must all be positive")
	}
	if len(c.Scoring.Divisors) == 0 {
		return fmt.Errorf("config.scoring.divisors is required")
	}
	for _, tier := range []string{"minima", "media", "alta"} {
		d, ok := c.Scoring.Divisors[tier]
		if !ok {
			return fmt.Errorf("config.scoring.divisors missing tier %s", tier)
		}
		if d <= 0 {
			return fmt.Errorf("divisor for %s must be positive", tier)
		}
	}
	if c.Capacity.HoursPerProject <= 0 {
		return fmt.Errorf("config.capacity.hours_per_project must be positive")
	}
	if c.Capacity.WarnPercent <= 0 || c.Capacity.WarnPercent > 100 {
		return fmt.Errorf("config.capacity.warn_percent must be in (0,100]")
	}
	if c.Limits.MaxStarsPerArea <= 0 {
		return fmt.Errorf("config.limits.max_stars_per_area must be positive")
	}
	for p := 1; p <= 5; p++ {
		limit, ok := c.Limits.SimultaneousByPriority[p]
		if !ok {
			return fmt.Errorf("config.limits.simultaneous_by_priority missing priority %d", p)
		}
		if limit <= 0 {
			return fmt.Errorf("simultaneous limit for priority %d must be positive", p)
		}
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("config.stages is required")
	}
	for i, name := range c.Stages {
		if name == "" {
			return fmt.Errorf("config.stages[%d] is empty", i)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["gestor_amvali"]; !ok {
			return fmt.Errorf("config.rbac.roles must include gestor_amvali")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	if c.Auth.TokenTTLHours <= 0 {
		return fmt.Errorf("config.auth.token_ttl_hours must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "amvali.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(portalName string) string {
	return fmt.Sprintf(defaultTemplate, portalName)
}

// Default returns the default Config struct for a portal.
func Default(portalName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, portalName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `portal:
  name: %s

scoring:
  weights:
    impact: 3
    urgency: 2
    cost: 1
  divisors:
    minima: 1
    media: 5
    alta: 10

capacity:
  hours_per_project: 8
  warn_percent: 85

limits:
  max_stars_per_area: 5
  simultaneous_by_priority:
    5: 1
    4: 2
    3: 3
    2: 4
    1: 5

stages:
  - "Solicitação Formal"
  - "Briefing Técnico"
  - "Diagnóstico de Complexidade"
  - "Validação Conjunta"
  - "Execução"
  - "Entrega e Encerramento"

advisor:
  model: gemini-2.0-flash
  timeout_seconds: 20

auth:
  token_ttl_hours: 24

rbac:
  roles:
    gestor_amvali:
      description: "AMVALI manager: full control"
      permissions:
        - municipality.create
        - municipality.update
        - municipality.read
        - project.create
        - project.read
        - project.update
        - project.stage.update
        - project.pause
        - queue.read
        - team.read
        - team.allocate
        - dashboard.read
        - diagnosis.run
        - notification.read
    tecnico_amvali:
      description: "AMVALI technician"
      permissions:
        - municipality.read
        - project.read
        - project.stage.update
        - queue.read
        - team.read
        - dashboard.read
        - diagnosis.run
        - notification.read
    municipal:
      description: "Municipal requester"
      permissions:
        - municipality.read
        - project.create
        - project.read
        - dashboard.read
        - notification.read
`
