package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRealIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"X-Real-IP public", map[string]string{"X-Real-IP": "203.0.113.7"}, "10.0.0.1:1234", "203.0.113.7"},
		{"X-Forwarded-For skips private", map[string]string{"X-Forwarded-For": "10.1.1.1, 198.51.100.4, 10.0.0.2"}, "10.0.0.1:1234", "198.51.100.4"},
		{"X-Forwarded-For all private", map[string]string{"X-Forwarded-For": "192.168.1.5, 10.0.0.2"}, "10.0.0.1:1234", "192.168.1.5"},
		{"direct connection", nil, "198.51.100.9:5555", "198.51.100.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			c.Request = req

			assert.Equal(t, tt.expected, GetRealIP(c))
		})
	}
}

func TestParseUserAgent(t *testing.T) {
	t.Run("android phone", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36")
		assert.Equal(t, "mobile", info.DeviceType)
		assert.Equal(t, "android", info.Platform)
		assert.Equal(t, "Chrome", info.Browser)
		assert.False(t, info.IsBot)
	})

	t.Run("ipad", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1")
		assert.Equal(t, "tablet", info.DeviceType)
	})

	t.Run("empty", func(t *testing.T) {
		info := ParseUserAgent("")
		assert.Equal(t, "unknown", info.DeviceType)
		assert.Equal(t, "Unknown", info.Browser)
	})
}

func TestAdminKey(t *testing.T) {
	key, hash, err := GenerateAdminKey()
	require.NoError(t, err)
	assert.Len(t, key, 48)

	assert.True(t, CheckAdminKey(hash, key))
	assert.False(t, CheckAdminKey(hash, "wrong-key"))
	assert.False(t, CheckAdminKey("", key))
	assert.False(t, CheckAdminKey(hash, ""))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	require.NoError(t, err)
	b, err := GenerateSecret(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
