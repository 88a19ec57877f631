package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/questionnaire-be/internal/api/dto"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/gin-gonic/gin"
)

var statusByCode = map[domain.Code]int{
	domain.CodeInvalidArgument:    http.StatusBadRequest,
	domain.CodeUnauthenticated:    http.StatusUnauthorized,
	domain.CodePermissionDenied:   http.StatusForbidden,
	domain.CodeNotFound:           http.StatusNotFound,
	domain.CodeFailedPrecondition: http.StatusConflict,
	domain.CodeResourceExhausted:  http.StatusTooManyRequests,
	domain.CodeInternal:           http.StatusInternalServerError,
}

// HTTPStatus maps a domain error code to its HTTP status.
func HTTPStatus(code domain.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError aborts the request with the error envelope for err. Unclassified
// errors are logged and reported as internal without their message.
func WriteError(c *gin.Context, logger *slog.Logger, err error) {
	body := dto.ErrorBody{Code: string(domain.CodeInternal), Message: "internal server error"}

	var de *domain.Error
	if errors.As(err, &de) {
		body = dto.ErrorBody{Code: string(de.Code), Message: de.Message, Field: de.Field}
	}

	status := HTTPStatus(domain.Code(body.Code))
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: body})
}

// writeBindError reports a request that failed binding or validation.
func writeBindError(c *gin.Context, logger *slog.Logger, err error) {
	logger.Debug("Invalid request", slog.String("error", err.Error()))
	e := domain.InvalidArgument("%s", dto.MessageOf(err))
	e.Field = dto.FieldOf(err)
	WriteError(c, logger, e)
}
