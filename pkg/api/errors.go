package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openfroyo/workorders/pkg/engine"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (s *Server) writeError(c *gin.Context, err error) {
	e := engine.AsEngineError(err)
	status := e.HTTPStatus()

	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("path", c.Request.URL.Path).
			Str(keyRequestID, c.GetString(keyRequestID)).
			Msg("request failed")
	}

	code := e.Code
	if code == "" {
		code = engine.ErrCodeInternal
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   e.Message,
		Code:    code,
		Details: e.Details,
	})
}

func badRequest(message string, err error) *engine.EngineError {
	return engine.NewValidationError(message, err)
}
