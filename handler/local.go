package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
)

const maxLocalBody = 1 << 20

// NewRouter exposes h over plain HTTP for local runs. Every route is served
// at its bare path and under /api. Trailing-slash paths are not redirected;
// they fall through to the handler, which normalises them.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Recovery(), requestLogger())

	serve := proxy(h)
	api := r.Group("/api")
	for _, rt := range h.Routes() {
		r.Handle(rt[0], rt[1], serve)
		api.Handle(rt[0], rt[1], serve)
	}
	r.NoRoute(serve)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// proxy converts the gin request into an API Gateway event and writes the
// handler's response back.
func proxy(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLocalBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "INVALID_INPUT", Reason: "read_body_error"})
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k, v := range c.Request.Header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
		query := make(map[string]string)
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}

		resp, err := h.Handle(c.Request.Context(), events.APIGatewayProxyRequest{
			HTTPMethod:            c.Request.Method,
			Path:                  c.Request.URL.Path,
			Headers:               headers,
			QueryStringParameters: query,
			Body:                  string(body),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "INTERNAL_ERROR"})
			return
		}
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		c.Data(resp.StatusCode, resp.Headers["Content-Type"], []byte(resp.Body))
	}
}
