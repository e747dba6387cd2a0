// Package analysis asks a generative model to review Solidity source for
// security issues, gas optimizations and general suggestions.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polybuilder/polybuilder/internal/observability/metrics"
)

var (
	// ErrNotConfigured is returned when no model API key is set.
	ErrNotConfigured = errors.New("analysis not configured: GEMINI_API_KEY not set")
	// ErrEmptyCode is returned for blank input.
	ErrEmptyCode = errors.New("code is required")
	// ErrModel wraps failures talking to the model.
	ErrModel = errors.New("model request failed")
)

// Model generates a text completion for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SecurityIssue is one finding with a fix.
type SecurityIssue struct {
	Line           int    `json:"line"`
	Issue          string `json:"issue"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// GasOptimization pairs current code with a cheaper rewrite.
type GasOptimization struct {
	Line      int    `json:"line"`
	Current   string `json:"current"`
	Optimized string `json:"optimized"`
	GasSaved  string `json:"gasSaved"`
}

// Suggestion is a general code review note.
type Suggestion struct {
	Line       int    `json:"line"`
	Suggestion string `json:"suggestion"`
	Reason     string `json:"reason"`
	Severity   string `json:"severity"`
}

// Report is the structured analysis result. Every list is non-nil.
type Report struct {
	Security      []SecurityIssue   `json:"security"`
	Optimizations []GasOptimization `json:"optimizations"`
	Suggestions   []Suggestion      `json:"suggestions"`
}

// Service runs code analysis. A nil model means analysis is disabled.
type Service struct {
	model   Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates an analysis service. model may be nil.
func NewService(model Model, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{model: model, timeout: 60 * time.Second, logger: logger.With("component", "analysis")}
}

// Enabled reports whether a model is configured.
func (s *Service) Enabled() bool { return s.model != nil }

// Analyze reviews code. A model reply that is not valid JSON yields an
// empty report rather than an error.
func (s *Service) Analyze(ctx context.Context, code string) (*Report, error) {
	if s.model == nil {
		metrics.Analysis("disabled")
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.model.Generate(ctx, buildPrompt(code))
	if err != nil {
		metrics.Analysis("error")
		s.logger.Error("model request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}

	report, err := parseReport(reply)
	if err != nil {
		metrics.Analysis("unparsed")
		s.logger.Warn("model reply was not valid JSON", "error", err)
		return emptyReport(), nil
	}
	metrics.Analysis("ok")
	return report, nil
}

func buildPrompt(code string) string {
	var b strings.Builder
	b.WriteString("Analyze this Solidity smart contract and provide a detailed analysis in JSON format.\n\n")
	b.WriteString("Return ONLY valid JSON with this exact structure:\n")
	b.WriteString(`{
  "security": [{"line": <number>, "issue": "<description>", "severity": "low|medium|high|critical", "recommendation": "<fix recommendation>"}],
  "optimizations": [{"line": <number>, "current": "<current code>", "optimized": "<optimized code>", "gasSaved": "<estimated savings>"}],
  "suggestions": [{"line": <number>, "suggestion": "<suggestion>", "reason": "<reason>", "severity": "info|warning|error"}]
}`)
	b.WriteString("\n\nContract:\n```solidity\n")
	b.WriteString(code)
	b.WriteString("\n```\n\nRespond with ONLY the JSON, no other text.")
	return b.String()
}

// parseReport extracts the outermost JSON object from reply. Models often
// wrap it in prose or a fenced block.
func parseReport(reply string) (*Report, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in reply")
	}

	var r Report
	if err := json.Unmarshal([]byte(reply[start:end+1]), &r); err != nil {
		return nil, err
	}
	if r.Security == nil {
		r.Security = []SecurityIssue{}
	}
	if r.Optimizations == nil {
		r.Optimizations = []GasOptimization{}
	}
	if r.Suggestions == nil {
		r.Suggestions = []Suggestion{}
	}
	return &r, nil
}

func emptyReport() *Report {
	return &Report{Security: []SecurityIssue{}, Optimizations: []GasOptimization{}, Suggestions: []Suggestion{}}
}
