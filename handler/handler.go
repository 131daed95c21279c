package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"intake-agent/internal/domain"
	"intake-agent/internal/notes"
	"intake-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Conversations interface {
	Start(ctx context.Context, in usecase.StartInput) (domain.Conversation, error)
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	Continue(ctx context.Context, in usecase.ContinueInput) ([]domain.Turn, error)
	Status(ctx context.Context, conversationID string) (domain.Conversation, error)
}

type FollowUps interface {
	NextFollowUp(ctx context.Context, conversationID string) (usecase.FollowUp, error)
}

type Notes interface {
	Generate(ctx context.Context, conversationID, title string) (notes.Note, error)
	Save(filename, text string) (notes.SaveResult, error)
	GenerateAndSave(ctx context.Context, conversationID, title, filename string) (notes.Note, notes.SaveResult, error)
}

type Diagnoser interface {
	Run(ctx context.Context, probe bool) usecase.DiagnosticsReport
}

type routeFunc func(ctx context.Context, req events.APIGatewayProxyRequest) (int, any)

type route struct {
	method string
	path   string
}

// Handler serves the HTTP API from API Gateway proxy events.
type Handler struct {
	conversations Conversations
	followUps     FollowUps
	notes         Notes
	diagnostics   Diagnoser
	routes        map[route]routeFunc
}

func NewHandler(conversations Conversations, followUps FollowUps, n Notes, diagnostics Diagnoser) (*Handler, error) {
	if conversations == nil {
		return nil, errors.New("handler: conversation service must not be nil")
	}
	if followUps == nil {
		return nil, errors.New("handler: follow-up service must not be nil")
	}
	if n == nil {
		return nil, errors.New("handler: note service must not be nil")
	}
	if diagnostics == nil {
		return nil, errors.New("handler: diagnostics must not be nil")
	}
	h := &Handler{conversations: conversations, followUps: followUps, notes: n, diagnostics: diagnostics}
	h.routes = map[route]routeFunc{
		{http.MethodGet, "/health"}:                        h.health,
		{http.MethodGet, "/ai/diagnostics"}:                h.aiDiagnostics,
		{http.MethodGet, "/ai/help"}:                       h.aiHelp,
		{http.MethodPost, "/conversations/start"}:          h.startConversation,
		{http.MethodPost, "/conversations/send"}:           h.sendMessage,
		{http.MethodPost, "/conversations/continue"}:       h.continueConversation,
		{http.MethodGet, "/conversations/status"}:          h.conversationStatus,
		{http.MethodPost, "/ai/next-follow-up"}:            h.nextFollowUp,
		{http.MethodPost, "/notes/generate"}:               h.generateNote,
		{http.MethodPost, "/notes/save-local"}:             h.saveNote,
		{http.MethodPost, "/ai/generate-and-save-summary"}: h.generateAndSaveSummary,
	}
	return h, nil
}

// Routes lists the served method and path pairs.
func (h *Handler) Routes() [][2]string {
	out := make([][2]string, 0, len(h.routes))
	for r := range h.routes {
		out = append(out, [2]string{r.method, r.path})
	}
	return out
}

// normalizePath drops an optional /api prefix and trailing slashes.
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/api")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.respond(correlationID, req, start, http.StatusBadRequest, errorBody(usecase.ErrorInvalidInput, "invalid_body_encoding", "request body is not valid base64", nil))
		}
		req.Body = string(raw)
		req.IsBase64Encoded = false
	}

	path := normalizePath(req.Path)
	fn, ok := h.routes[route{req.HTTPMethod, path}]
	if !ok {
		for r := range h.routes {
			if r.path == path {
				return h.respond(correlationID, req, start, http.StatusMethodNotAllowed, errorBody(usecase.ErrorInvalidInput, "method_not_allowed", "method not allowed", nil))
			}
		}
		return h.respond(correlationID, req, start, http.StatusNotFound, errorBody(usecase.ErrorNotFound, "route_not_found", "route not found", nil))
	}

	status, body := fn(ctx, req)
	return h.respond(correlationID, req, start, status, body)
}

func (h *Handler) respond(correlationID string, req events.APIGatewayProxyRequest, start time.Time, status int, body any) (events.APIGatewayProxyResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to encode response", "correlation_id", correlationID, "err", err)
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_response_error"}`)
	}

	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "request handled",
		"correlation_id", correlationID,
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(payload),
	}, nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	if strings.TrimSpace(req.Body) == "" {
		return errors.New("request body is required")
	}
	return json.Unmarshal([]byte(req.Body), v)
}

func invalidBody(err error) (int, any) {
	return http.StatusBadRequest, errorBody(usecase.ErrorInvalidInput, "invalid_body", err.Error(), nil)
}
