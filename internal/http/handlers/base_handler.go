// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fooddash/internal/errs"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps the error kind to a status. Unclassified errors are
// attached to the context for the request log and hidden from the client.
func writeServiceError(c *gin.Context, err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		writeError(c, http.StatusBadRequest, err.Error())
	case errs.KindNotFound:
		writeError(c, http.StatusNotFound, err.Error())
	case errs.KindConflict:
		writeError(c, http.StatusConflict, err.Error())
	case errs.KindGateway:
		_ = c.Error(err)
		writeError(c, http.StatusBadGateway, "upstream service unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func forbidden(c *gin.Context) {
	writeError(c, http.StatusForbidden, "forbidden")
}
