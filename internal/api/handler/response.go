package handler

import (
	"net/http"
	"strings"

	apperrors "handoffdesk/backend/internal/errors"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

func errorResponse(err error) (int, ErrorResponse) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	return apperrors.HTTPStatus(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

// language picks ?lang= or the primary Accept-Language tag.
func language(c *gin.Context) string {
	if lang := c.Query("lang"); lang != "" {
		return lang
	}
	header := c.GetHeader("Accept-Language")
	if header == "" {
		return ""
	}
	tag := strings.SplitN(header, ",", 2)[0]
	tag = strings.SplitN(tag, ";", 2)[0]
	tag = strings.SplitN(tag, "-", 2)[0]
	return strings.ToLower(strings.TrimSpace(tag))
}
