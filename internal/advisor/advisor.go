// Package advisor provides the external complexity diagnosis used by the
// portal. The advisor is advisory only: callers decide what to persist.
package advisor

import (
	"context"
	"fmt"
)

// Request carries the project facts the advisor reasons over.
type Request struct {
	Title       string
	Description string
	ProjectType string
	Location    string
	Scope       string
	Purpose     string
}

// Diagnosis is the advisor's verdict.
type Diagnosis struct {
	Complexity      string   `json:"complexity"`
	Confidence      float64  `json:"confidence"`
	Justification   string   `json:"justification"`
	Recommendations []string `json:"recommendations"`
}

// ComplexityAdvisor diagnoses project complexity.
type ComplexityAdvisor interface {
	Diagnose(ctx context.Context, req Request) (Diagnosis, error)
}

// UnavailableError indicates the advisor backend could not be reached or
// returned an unusable answer. Callers should treat it as retryable and
// must not substitute a default complexity.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("complexity advisor unavailable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("complexity advisor unavailable: %s", e.Reason)
}

func (e UnavailableError) Unwrap() error { return e.Err }
