package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(mw...)
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	e.GET("/rx", ok)
	e.POST("/rx", ok)
	return e
}

func serve(e *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestSizeLimit(t *testing.T) {
	e := newEngine(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxHeaderSize: 64}))

	w := serve(e, httptest.NewRequest(http.MethodPost, "/rx", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(e, httptest.NewRequest(http.MethodPost, "/rx", strings.NewReader("far too large a body")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/rx", nil)
	req.Header.Set("X-Padding", strings.Repeat("a", 100))
	w = serve(e, req)
	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, w.Code)
}

func TestVersion(t *testing.T) {
	e := newEngine(Version(DefaultVersionConfig()))

	w := serve(e, httptest.NewRequest(http.MethodGet, "/rx", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0", w.Header().Get(HeaderAPIVersion))

	req := httptest.NewRequest(http.MethodGet, "/rx", nil)
	req.Header.Set(HeaderAcceptVersion, "2.0")
	w = serve(e, req)
	assert.Equal(t, http.StatusNotAcceptable, w.Code)
	assert.Contains(t, w.Body.String(), "API version 2.0 not supported")
}

func TestCacheHeaders(t *testing.T) {
	e := newEngine(Cache(NoStoreCacheConfig()))

	w := serve(e, httptest.NewRequest(http.MethodGet, "/rx", nil))
	assert.Equal(t, "private, no-store", w.Header().Get("Cache-Control"))

	w = serve(e, httptest.NewRequest(http.MethodPost, "/rx", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	e := newEngine(RequestID())

	w := serve(e, httptest.NewRequest(http.MethodGet, "/rx", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))

	req := httptest.NewRequest(http.MethodGet, "/rx", nil)
	req.Header.Set(HeaderXRequestID, "abc-123")
	w = serve(e, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
}
