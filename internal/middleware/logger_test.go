package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	engine := gin.New()
	engine.Use(LoggerMiddleware(zap.New(core), "/metrics"))
	engine.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/api/messages/:stream_key", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.PATCH("/api/messages/message/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/metrics", nil),
		httptest.NewRequest(http.MethodGet, "/api/messages/room-1", nil),
		httptest.NewRequest(http.MethodPatch, "/api/messages/message/abc", nil),
	} {
		engine.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	require.Len(t, entries, 2, "metrics scrapes are skipped")

	first := entries[0].ContextMap()
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/api/messages/:stream_key", first["route"])
	assert.Equal(t, "room-1", first["stream_key"])

	second := entries[1].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "abc", second["message_id"])
	assert.Equal(t, int64(http.StatusNotFound), second["status"])
}
