package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
	"github.com/noah-isme/olympiad-codes-api/pkg/middleware/requestid"
)

func TestErrorEnvelopeHidesCauseAndEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestid.Middleware())
	var ginErrors int
	router.GET("/boom", func(c *gin.Context) {
		Error(c, appErrors.Wrap(errors.New("pq: connection refused"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim code"))
		ginErrors = len(c.Errors)
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, 1, ginErrors)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var env map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "INTERNAL_ERROR", env["error"]["code"])
	assert.Equal(t, "req-1", env["meta"]["requestId"])
}

func TestErrorMapsDomainStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, appErrors.Clone(appErrors.ErrPoolExhausted, "class 9 is out of codes"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "class 9 is out of codes")
	assert.Empty(t, c.Errors)
}
