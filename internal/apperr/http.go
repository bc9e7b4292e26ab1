package apperr

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// Respond writes err as a JSON {"error": ...} body with the matching status.
// Internal errors are attached to the gin context so the request logger records
// them, and the client only sees fallback.
func Respond(c *gin.Context, err error, fallback string) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		c.AbortWithStatusJSON(appErr.Kind.Status(), gin.H{"error": appErr.Message})
		return
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(KindInternal.Status(), gin.H{"error": fallback})
}
