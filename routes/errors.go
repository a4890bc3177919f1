package routes

import (
	"errors"
	"net/http"

	"iqbot/internal/ai"
	"iqbot/internal/vectorindex"
	"iqbot/services"
	"iqbot/utils"

	"github.com/gin-gonic/gin"
)

// classify maps a pipeline error to an HTTP status and error envelope.
func classify(err error) (int, utils.ErrorResponse) {
	var xerr *services.ExtractionError
	var ierr *vectorindex.IndexError
	var perr *ai.ProviderError

	switch {
	case errors.As(err, &xerr):
		details := gin.H{"kind": xerr.Kind, "source": xerr.Source, "retryable": xerr.Retryable}
		if xerr.StatusCode != 0 {
			details["status_code"] = xerr.StatusCode
		}
		return http.StatusUnprocessableEntity, utils.ErrorResponse{
			ErrorCode: "extraction_failed",
			Message:   xerr.Error(),
			Details:   details,
		}
	case errors.As(err, &ierr):
		return http.StatusInternalServerError, utils.ErrorResponse{
			ErrorCode: "index_error",
			Message:   err.Error(),
			Details:   gin.H{"op": ierr.Op},
		}
	case errors.As(err, &perr):
		status := http.StatusBadGateway
		if perr.Retryable {
			status = http.StatusServiceUnavailable
		}
		return status, utils.ErrorResponse{
			ErrorCode: "provider_error",
			Message:   err.Error(),
			Details:   gin.H{"provider": perr.Provider, "op": perr.Op, "retryable": perr.Retryable},
		}
	}
	return http.StatusInternalServerError, utils.ErrorResponse{ErrorCode: "internal_error", Message: err.Error()}
}

func respondError(c *gin.Context, err error) {
	status, body := classify(err)
	_ = c.Error(err)
	utils.RespondWithError(c, status, body.ErrorCode, body.Message, body.Details)
}
