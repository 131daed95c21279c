package usecase

import (
	"context"
	"errors"
	"strings"

	"intake-agent/internal/domain"
	"intake-agent/internal/provider"
)

// Diagnostics reports how the provider is configured and, on request,
// whether it answers.
type Diagnostics struct {
	cfg      provider.Config
	provider provider.Provider
}

type DiagnosticsReport struct {
	Provider    string
	Model       string
	APIBase     string
	ConfigValid bool
	Probed      bool
	ProbeOK     bool
	Error       string
	Hints       []string
}

func NewDiagnostics(cfg provider.Config, p provider.Provider) (*Diagnostics, error) {
	if p == nil {
		return nil, errors.New("usecase: provider must not be nil")
	}
	return &Diagnostics{cfg: cfg, provider: p}, nil
}

// Run never returns provider failures as errors; they are part of the report.
func (d *Diagnostics) Run(ctx context.Context, probe bool) DiagnosticsReport {
	r := DiagnosticsReport{
		Provider: d.provider.Name(),
		Model:    d.cfg.Model,
		APIBase:  d.cfg.APIBase,
	}
	if err := d.cfg.Validate(); err != nil {
		r.Error = err.Error()
		r.Hints = provider.ConfigHints()
		return r
	}
	r.ConfigValid = true
	if !probe {
		return r
	}

	r.Probed = true
	out, err := d.provider.Complete(ctx, provider.Request{
		System:   "Reply with a single short question.",
		Messages: []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: "Connectivity check."}},
	})
	if err != nil {
		pe, _ := provider.Classify(err).(*provider.Error)
		r.Error = err.Error()
		if pe != nil {
			r.Hints = pe.Hints()
		}
		return r
	}
	if strings.TrimSpace(out) == "" {
		r.Error = "AI returned an empty response."
		r.Hints = provider.EmptyResponseHints()
		return r
	}
	r.ProbeOK = true
	return r
}
