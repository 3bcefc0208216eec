package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 100, cfg.MaxCacheSize)
	assert.Equal(t, 50, cfg.CompactionWindow)
	assert.Equal(t, 5*time.Second, cfg.CompactionTimeout)
	assert.Equal(t, BufferBackendRedis, cfg.BufferBackend)
	assert.Equal(t, "messages:buffer", cfg.BufferKey)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MAX_CACHE_SIZE", "2")
	t.Setenv("COMPACTION_WINDOW", "50")
	t.Setenv("COMPACTION_TIMEOUT", "250ms")
	t.Setenv("BUFFER_BACKEND", "memory")

	cfg := LoadConfig()

	assert.Equal(t, 2, cfg.MaxCacheSize)
	assert.Equal(t, 50, cfg.CompactionWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.CompactionTimeout)
	assert.Equal(t, BufferBackendMemory, cfg.BufferBackend)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_CACHE_SIZE", "-4")
	t.Setenv("COMPACTION_WINDOW", "lots")
	t.Setenv("COMPACTION_TIMEOUT", "-1s")
	t.Setenv("BUFFER_BACKEND", "etcd")

	cfg := LoadConfig()

	assert.Equal(t, 1, cfg.MaxCacheSize)
	assert.Equal(t, 50, cfg.CompactionWindow)
	assert.Equal(t, 5*time.Second, cfg.CompactionTimeout)
	assert.Equal(t, BufferBackendRedis, cfg.BufferBackend)
}

func TestPostgresDSN(t *testing.T) {
	cfg := Config{DBHost: "h", DBUser: "u", DBPass: "p", DBName: "n", DBPort: "1"}
	assert.Equal(t, "host=h user=u password=p dbname=n port=1 sslmode=disable", cfg.PostgresDSN())
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "default", in: "", want: []string{"http://localhost:3000", "http://127.0.0.1:3000"}},
		{name: "single", in: "https://chat.example.com", want: []string{"https://chat.example.com"}},
		{name: "list with blanks", in: " https://a.example.com , ,https://b.example.com", want: []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{FrontendURL: tt.in}
			assert.Equal(t, tt.want, cfg.AllowedOrigins())
		})
	}
}
