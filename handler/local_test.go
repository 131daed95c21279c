package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"intake-agent/internal/domain"
)

func TestNewRouter_ProxiesToHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, s := newTestHandler(t)
	s.conversations.conv = domain.Conversation{ID: "conv-1", PatientID: "p-1"}
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/start", strings.NewReader(`{"patient_id":"p-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "corr-9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "corr-9", rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "p-1", s.conversations.startIn.PatientID)
	out := parseBody[conversationResponse](t, rec.Body.String())
	require.Equal(t, "conv-1", out.ConversationID)
}

func TestNewRouter_PassesQueryAndUnknownRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, s := newTestHandler(t)
	r := NewRouter(h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/status?conversation_id=conv-7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "conv-7", s.conversations.statusID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", parseBody[errorResponse](t, rec.Body.String()).Error)
}

func TestNewRouter_TrailingSlashIsServedNotRedirected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, s := newTestHandler(t)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/start/", strings.NewReader(`{"patient_id":"p-2"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
	require.Equal(t, "p-2", s.conversations.startIn.PatientID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
