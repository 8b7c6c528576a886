package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret-key-123456789"

func setupTestJWTService() *jwt.Service {
	return jwt.NewService(testSecret, time.Hour)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestRouter(jwtService *jwt.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", AuthMiddleware(jwtService, testLogger()), func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "success",
			"user_id": userCtx.UserID,
			"email":   userCtx.Email,
		})
	})
	return router
}

func doRequest(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Success(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter(jwtService)

	userID := uuid.New()
	email := "driver@parkmy.test"

	token, err := jwtService.GenerateAccessToken(userID, email, []string{"driver"})
	require.NoError(t, err)

	w := doRequest(router, "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "success")
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), email)
}

func TestAuthMiddleware_MissingAuthHeader(t *testing.T) {
	router := setupTestRouter(setupTestJWTService())

	w := doRequest(router, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_AUTH_HEADER")
}

func TestAuthMiddleware_InvalidAuthFormat(t *testing.T) {
	router := setupTestRouter(setupTestJWTService())

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "some-token"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_AUTH_FORMAT")
		})
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	router := setupTestRouter(setupTestJWTService())

	w := doRequest(router, "Bearer not.a.jwt")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	expired := jwt.NewService(testSecret, -time.Hour)
	token, err := expired.GenerateAccessToken(uuid.New(), "driver@parkmy.test", nil)
	require.NoError(t, err)

	router := setupTestRouter(setupTestJWTService())
	w := doRequest(router, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	other := jwt.NewService("another-secret-key-987654321", time.Hour)
	token, err := other.GenerateAccessToken(uuid.New(), "driver@parkmy.test", nil)
	require.NoError(t, err)

	router := setupTestRouter(setupTestJWTService())
	w := doRequest(router, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestGetUserContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("missing", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		_, ok := GetUserContext(c)
		assert.False(t, ok)
	})

	t.Run("wrong type", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(UserContextKey, "not-a-user")
		_, ok := GetUserContext(c)
		assert.False(t, ok)
	})

	t.Run("present", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		want := UserContext{UserID: uuid.New(), Email: "driver@parkmy.test", Roles: []string{"driver"}}
		c.Set(UserContextKey, want)

		got, ok := GetUserContext(c)
		require.True(t, ok)
		assert.Equal(t, want, got)
	})
}
