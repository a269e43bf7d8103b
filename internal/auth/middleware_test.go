package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject, audience string, ttl time.Duration) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", JWTMiddleware(secret, audience), func(c *gin.Context) {
		operator, _ := Operator(c.Request.Context())
		c.String(http.StatusOK, operator)
	})
	return router
}

func call(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token := signToken(t, "secret", "operator-7", "faceeval", time.Hour)

	resp := call(newRouter("secret", "faceeval"), "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "operator-7" {
		t.Fatalf("unexpected operator: %q", resp.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	good := signToken(t, "secret", "operator-7", "", time.Hour)
	expired := signToken(t, "secret", "operator-7", "", -time.Minute)
	noSubject := signToken(t, "secret", "", "", time.Hour)

	cases := []struct {
		name     string
		secret   string
		audience string
		header   string
	}{
		{"missing header", "secret", "", ""},
		{"wrong scheme", "secret", "", "Basic " + good},
		{"wrong secret", "other", "", "Bearer " + good},
		{"expired", "secret", "", "Bearer " + expired},
		{"wrong audience", "secret", "faceeval", "Bearer " + good},
		{"no subject", "secret", "", "Bearer " + noSubject},
		{"server without secret", "", "", "Bearer " + good},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(newRouter(tc.secret, tc.audience), tc.header)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
			}
		})
	}
}
