package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"intake-agent/internal/config"
	"intake-agent/internal/provider"
)

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Store: config.StoreConfig{
			Backend:     config.StoreSQLite,
			DatabaseURL: filepath.Join(dir, "intake.db"),
		},
		Provider:         provider.Config{Kind: provider.KindMock},
		NotesDir:         filepath.Join(dir, "notes"),
		MaxMessageLength: 4000,
	}
}

func TestBuild_SQLiteWithMockProvider(t *testing.T) {
	h, cleanup, err := Build(context.Background(), sqliteConfig(t))
	require.NoError(t, err)
	defer cleanup()

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/conversations/send",
		Body:       `{"patient_id":"p-1","sender":"patient","text":"I have a bad cough"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Contains(t, resp.Body, `"saved":true`)
}

func TestBuild_RejectsUnknownBackend(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Store.Backend = "redis"

	_, _, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuild_RejectsMissingPolicyFile(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, _, err := Build(context.Background(), cfg)
	require.Error(t, err)
}
