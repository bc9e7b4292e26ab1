package bucket

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesReader(s string) io.Reader {
	return strings.NewReader(s)
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service, _, _ := newTestService(t)
	r := gin.New()
	RegisterRoutes(r.Group(""), service)
	return r, service
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHTTPCreateRenameDelete(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doJSON(r, http.MethodPost, "/buckets", `{"bucketName":"photos"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Bucket
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "photos", created.Name)

	rr = doJSON(r, http.MethodPost, "/buckets", `{"bucketName":"photos"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.JSONEq(t, `{"error":"bucket name already exists"}`, rr.Body.String())

	rr = doJSON(r, http.MethodPut, "/buckets/"+created.ID.String(), `{"bucketName":"pictures"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"name":"pictures"`)

	rr = doJSON(r, http.MethodGet, "/buckets", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listed []Bucket
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, int64(0), listed[0].Size)

	rr = doJSON(r, http.MethodDelete, "/buckets/"+created.ID.String(), "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(r, http.MethodDelete, "/buckets/"+created.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHTTPCreateMissingName(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doJSON(r, http.MethodPost, "/buckets", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"bucketName is required"}`, rr.Body.String())

	rr = doJSON(r, http.MethodPost, "/buckets", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTPRenameUnknownBucket(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doJSON(r, http.MethodPut, "/buckets/not-a-uuid", `{"bucketName":"x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
