package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"intake-agent/internal/provider"
)

func TestDiagnostics_InvalidConfig(t *testing.T) {
	cfg := provider.Config{Kind: provider.KindOpenAI}
	d, err := NewDiagnostics(cfg, provider.New(cfg, nil))
	require.NoError(t, err)

	r := d.Run(context.Background(), true)
	require.Equal(t, "openai", r.Provider)
	require.False(t, r.ConfigValid)
	require.False(t, r.Probed)
	require.Contains(t, r.Error, "AI_API_KEY")
	require.Equal(t, provider.ConfigHints(), r.Hints)
}

func TestDiagnostics_MockProbe(t *testing.T) {
	d, err := NewDiagnostics(provider.Config{}, provider.NewMock())
	require.NoError(t, err)

	r := d.Run(context.Background(), false)
	require.True(t, r.ConfigValid)
	require.False(t, r.Probed)

	r = d.Run(context.Background(), true)
	require.True(t, r.Probed)
	require.True(t, r.ProbeOK)
	require.Empty(t, r.Error)
}

func TestDiagnostics_ProbeFailures(t *testing.T) {
	cfg := provider.Config{Kind: provider.KindOpenAI, APIKey: "k"}

	d, err := NewDiagnostics(cfg, &scriptedProvider{err: &provider.Error{Kind: provider.ErrorUpstream, StatusCode: 404, Err: errors.New("model not found")}})
	require.NoError(t, err)
	r := d.Run(context.Background(), true)
	require.True(t, r.ConfigValid)
	require.False(t, r.ProbeOK)
	require.Contains(t, r.Error, "model not found")
	require.NotEmpty(t, r.Hints)

	d, err = NewDiagnostics(cfg, &scriptedProvider{reply: ""})
	require.NoError(t, err)
	r = d.Run(context.Background(), true)
	require.False(t, r.ProbeOK)
	require.Equal(t, provider.EmptyResponseHints(), r.Hints)

	_, err = NewDiagnostics(cfg, nil)
	require.Error(t, err)
}
