package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLimitedRouter(connectionsPerMinute int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", LimitConnections(connectionsPerMinute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doRequest(router *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w.Code
}

func TestLimitConnections_AllowsWithinBurst(t *testing.T) {
	router := newLimitedRouter(3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(router, "192.0.2.1:1234"))
	}
}

func TestLimitConnections_RejectsBeyondBurst(t *testing.T) {
	router := newLimitedRouter(2)

	doRequest(router, "192.0.2.1:1234")
	doRequest(router, "192.0.2.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "192.0.2.1:1234"))
}

func TestLimitConnections_TracksIPsIndependently(t *testing.T) {
	router := newLimitedRouter(1)

	assert.Equal(t, http.StatusOK, doRequest(router, "192.0.2.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "192.0.2.1:5678"))
	assert.Equal(t, http.StatusOK, doRequest(router, "192.0.2.2:1234"))
}

func TestLimitConnections_DisabledPassesEverything(t *testing.T) {
	router := newLimitedRouter(0)

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(router, "192.0.2.1:1234"))
	}
}
