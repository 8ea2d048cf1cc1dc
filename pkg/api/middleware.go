package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

const (
	headerRequestID = "X-Request-ID"
	headerActor     = "X-Actor"
	keyRequestID    = "request_id"
	keyTraceID      = "trace_id"
)

// requestID reuses the caller's X-Request-ID or assigns a new one.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(keyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := s.logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = s.logger.Error()
		case status >= http.StatusBadRequest:
			event = s.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str(keyRequestID, c.GetString(keyRequestID)).
			Str(keyTraceID, c.GetString(keyTraceID)).
			Msg("request")
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, allowed := range s.cfg.CORSOrigins {
			if allowed == "*" || allowed == origin {
				c.Header("Access-Control-Allow-Origin", allowed)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "Authorization", headerActor, headerRequestID}, ", "))
				c.Header("Access-Control-Expose-Headers", headerRequestID)
				break
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// instrument opens a span per request and records request metrics against
// the matched route pattern.
func (s *Server) instrument() gin.HandlerFunc {
	tel := s.deps.Telemetry
	return func(c *gin.Context) {
		timer := telemetry.NewTimer()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := tel.WithContext(c.Request.Context())
		ctx, span := tel.Tracer.StartSpan(ctx, c.Request.Method+" "+route,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String(keyRequestID, c.GetString(keyRequestID)),
		)
		c.Request = c.Request.WithContext(ctx)
		if id := telemetry.TraceID(ctx); id != "" {
			c.Set(keyTraceID, id)
		}

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			telemetry.RecordError(span, fmt.Errorf("request failed with status %d", status))
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()

		if tel.Metrics != nil {
			tel.Metrics.RecordHTTPRequest(c.Request.Method, route, status, timer.Duration())
		}
	}
}

// actor attaches the X-Actor header to the request context for audit rows.
func (s *Server) actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := strings.TrimSpace(c.GetHeader(headerActor)); actor != "" {
			c.Request = c.Request.WithContext(engine.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}
