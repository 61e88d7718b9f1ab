package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mzielin/agent-bridge/internal/api/response"
	"github.com/mzielin/agent-bridge/internal/domain"
)

var validate = validator.New()

// writeServiceError maps domain errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var timeoutErr *domain.TimeoutError
	var transportErr *domain.TransportError

	switch {
	case errors.Is(err, domain.ErrUnauthorizedThread):
		response.Forbidden(w, err.Error())
	case errors.Is(err, domain.ErrStreamActive):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoResponse):
		response.Error(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &validationErr):
		response.BadRequest(w, validationErr.Message)
	case errors.As(err, &timeoutErr):
		response.Error(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &transportErr):
		if transportErr.Status == http.StatusNotFound {
			response.NotFound(w, err.Error())
			return
		}
		response.Error(w, http.StatusBadGateway, err.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
