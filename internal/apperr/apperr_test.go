package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	sentinel := NotFound("bucket not found")
	wrapped := fmt.Errorf("rename bucket: %w", sentinel)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, KindInternal, KindOf(errors.New("disk on fire")))
	assert.False(t, Is(nil, KindInternal))
}

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:           http.StatusBadRequest,
		KindConflict:             http.StatusConflict,
		KindNotFound:             http.StatusNotFound,
		KindAuth:                 http.StatusUnauthorized,
		KindPayloadTooLarge:      http.StatusBadRequest,
		KindUnsupportedMediaType: http.StatusBadRequest,
		KindRateLimited:          http.StatusTooManyRequests,
		KindInternal:             http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), kind.String())
	}
}

func TestRespondHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/internal", func(c *gin.Context) {
		Respond(c, errors.New("pq: connection refused"), "failed to list buckets")
	})
	r.GET("/missing", func(c *gin.Context) {
		Respond(c, fmt.Errorf("get: %w", NotFound("bucket not found")), "unused")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"failed to list buckets"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"bucket not found"}`, rr.Body.String())
}
