package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/llm"
	"github.com/aria-agents/aria/pkg/roundtable"
	"github.com/aria-agents/aria/pkg/services"
)

// Error kinds carried in the response envelope. Clients branch on kind, not
// on the message text.
const (
	KindValidation          = "validation_error"
	KindNotFound            = "not_found"
	KindConflict            = "conflict"
	KindSessionBusy         = "session_busy"
	KindAgentDisabled       = "agent_disabled"
	KindConfiguration       = "configuration_error"
	KindRateLimited         = "rate_limited"
	KindUpstreamTimeout     = "upstream_timeout"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindUpstreamBadRequest  = "upstream_bad_request"
	KindTurnFailed          = "turn_failed"
	KindUnauthorized        = "unauthorized"
	KindInternal            = "internal_error"
)

type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	IncidentID string `json:"incident_id,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError maps a service or engine error onto the HTTP envelope. Unmapped
// errors become opaque 500s carrying an incident id; the detail goes to the
// log, not the client.
func writeError(c *gin.Context, err error) {
	status, kind := mapError(err)
	body := errorBody{Kind: kind, Message: err.Error()}

	if status >= http.StatusInternalServerError {
		body.IncidentID = uuid.NewString()
		slog.Error("request failed",
			"incident_id", body.IncidentID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
		if kind == KindInternal {
			body.Message = "internal error"
		}
	}

	c.AbortWithStatusJSON(status, errorEnvelope{Error: body})
}

func mapError(err error) (int, string) {
	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, KindValidation
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict, KindConflict
	case errors.Is(err, services.ErrSessionNotActive):
		return http.StatusConflict, KindConflict
	case errors.Is(err, engine.ErrSessionBusy):
		return http.StatusConflict, KindSessionBusy
	case errors.Is(err, engine.ErrEmptyContent), errors.Is(err, engine.ErrContentTooLarge):
		return http.StatusUnprocessableEntity, KindValidation
	case errors.Is(err, engine.ErrAgentDisabled):
		return http.StatusConflict, KindAgentDisabled
	case errors.Is(err, engine.ErrConfiguration):
		return http.StatusUnprocessableEntity, KindConfiguration
	case errors.Is(err, engine.ErrRateLimited), errors.Is(err, llm.ErrUpstreamRateLimited):
		return http.StatusTooManyRequests, KindRateLimited
	case errors.Is(err, engine.ErrToolLoopExhausted),
		errors.Is(err, engine.ErrToolDeadlineExceeded),
		errors.Is(err, engine.ErrTerminatedMidTurn):
		return http.StatusInternalServerError, KindTurnFailed
	case errors.Is(err, llm.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindUpstreamTimeout
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		return http.StatusBadGateway, KindUpstreamUnavailable
	case errors.Is(err, llm.ErrUpstreamBadRequest):
		return http.StatusBadRequest, KindUpstreamBadRequest
	case errors.Is(err, roundtable.ErrTooFewParticipants),
		errors.Is(err, roundtable.ErrInvalidRounds),
		errors.Is(err, roundtable.ErrParticipantUnavailable):
		return http.StatusUnprocessableEntity, KindValidation
	case errors.Is(err, roundtable.ErrUnknownTracking):
		return http.StatusNotFound, KindNotFound
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// badRequest rejects malformed JSON bodies before any service sees them.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Kind:    KindValidation,
		Message: "invalid request body: " + err.Error(),
	}})
}
