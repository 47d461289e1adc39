package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func corsContext(t *testing.T, method, origin string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(method, "/", nil)
	if origin != "" {
		c.Request.Header.Set("Origin", origin)
	}
	return c, w
}

func TestCorsAllowsListedOrigin(t *testing.T) {
	mw := New([]string{"https://editor.example.org/"})

	c, w := corsContext(t, http.MethodGet, "https://editor.example.org")
	mw(c)
	require.Equal(t, "https://editor.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	c, w = corsContext(t, http.MethodGet, "https://evil.example.org")
	mw(c)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsPreflightShortCircuits(t *testing.T) {
	c, w := corsContext(t, http.MethodOptions, "https://editor.example.org")
	New(nil)(c)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://editor.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	require.True(t, c.IsAborted())
}
