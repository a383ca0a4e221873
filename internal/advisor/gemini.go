package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiConfig configures the Gemini-backed advisor.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiAdvisor calls the Gemini generateContent endpoint.
type GeminiAdvisor struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGemini builds an advisor from config. The HTTP client carries the
// configured timeout so a slow backend cannot hang a request forever.
func NewGemini(cfg GeminiConfig) *GeminiAdvisor {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GeminiAdvisor{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

const promptTemplate = `Você é um engenheiro sênior avaliando a complexidade de um projeto municipal de engenharia.

Projeto:
- Título: %s
- Tipo: %s
- Descrição: %s
- Localização: %s
- Escopo: %s
- Finalidade: %s

Classifique a complexidade técnica como "minima", "media" ou "alta".
Responda SOMENTE com JSON neste formato:
{"complexity": "minima|media|alta", "confidence": 0.0, "justification": "...", "recommendations": ["..."]}`

// Diagnose asks Gemini for a complexity verdict. Any transport failure,
// non-200 status, or unparseable answer is reported as UnavailableError.
func (a *GeminiAdvisor) Diagnose(ctx context.Context, req Request) (Diagnosis, error) {
	prompt := fmt.Sprintf(promptTemplate,
		req.Title, req.ProjectType, req.Description, req.Location, req.Scope, req.Purpose)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return Diagnosis{}, UnavailableError{Reason: "encode request", Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, a.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Diagnosis{}, UnavailableError{Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Diagnosis{}, UnavailableError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Diagnosis{}, UnavailableError{Reason: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Diagnosis{}, UnavailableError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Diagnosis{}, UnavailableError{Reason: "decode response", Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Diagnosis{}, UnavailableError{Reason: "empty response"}
	}

	text := stripJSONFences(parsed.Candidates[0].Content.Parts[0].Text)
	var diag Diagnosis
	if err := json.Unmarshal([]byte(text), &diag); err != nil {
		return Diagnosis{}, UnavailableError{Reason: "unparseable verdict", Err: err}
	}
	switch diag.Complexity {
	case "minima", "media", "alta":
	default:
		return Diagnosis{}, UnavailableError{Reason: fmt.Sprintf("unknown complexity %q", diag.Complexity)}
	}
	return diag, nil
}

// stripJSONFences removes a ```json ... ``` wrapper models sometimes add.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
