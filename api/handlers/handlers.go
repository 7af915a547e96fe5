package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/migration-orchestrator/internal/service/migration"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
)

type Handlers struct {
	Migration *MigrationHandler
	Events    *EventsHandler
}

func NewHandlers(
	migrationService migration.MigrationService,
	bus *progress.Bus,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Migration: NewMigrationHandler(migrationService, logger),
		Events:    NewEventsHandler(bus, logger),
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	if code, ok := errors.CodeOf(err); ok {
		switch code {
		case errors.CodePlannerUnknownObject, errors.CodePlannerBadOptions, errors.CodeGraphCycle:
			return http.StatusBadRequest
		}
	}
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.IsAny(err, migration.ErrRunNotFinished, migration.ErrRunFinished):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	resp := ErrorResponse{Error: http.StatusText(status), Message: message}
	if err != nil {
		resp.Message = message + ": " + err.Error()
		if code, ok := errors.CodeOf(err); ok {
			resp.Code = string(code)
		}
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			resp.Hint = hints[0]
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, logger.String("path", c.FullPath()), logger.Error(err))
	} else {
		log.Debug(message, logger.String("path", c.FullPath()), logger.Error(err))
	}
	c.AbortWithStatusJSON(status, resp)
}
