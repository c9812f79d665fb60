package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "editor", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "editor", claims.Subject)

	_, err = ParseToken("other-secret", token)
	assert.Error(t, err)

	_, err = GenerateToken("", "editor", time.Hour)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	valid, err := GenerateToken(testSecret, "editor", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(testSecret, "editor", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{"Missing authorization header", "", http.StatusUnauthorized},
		{"Invalid token format", "InvalidToken", http.StatusUnauthorized},
		{"Expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"Valid token", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(JWTAuth(testSecret))
			router.GET("/test", func(c *gin.Context) {
				subject, _ := GetSubject(c)
				c.String(http.StatusOK, subject)
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "editor", w.Body.String())
			}
		})
	}
}
