package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "a")
	assert.False(t, ok, "bucket is empty")

	ok, _ = rl.Allow(ctx, "b")
	assert.True(t, ok, "subjects have separate buckets")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func serve(h ...gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/", append(h, func(c *gin.Context) { c.Status(http.StatusNoContent) })...)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestLimitFailsOpen(t *testing.T) {
	rec := serve(Limit(failingLimiter{}, zerolog.Nop()))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func withClaims(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextKeyClaims, &service.Claims{UserID: 7, Username: "u", Role: role})
		c.Next()
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name  string
		chain []gin.HandlerFunc
		want  int
	}{
		{"no claims", []gin.HandlerFunc{RequireRole(model.RoleStudent)}, http.StatusUnauthorized},
		{"wrong role", []gin.HandlerFunc{withClaims(model.RoleStudent), RequireStaff()}, http.StatusForbidden},
		{"teacher is staff", []gin.HandlerFunc{withClaims(model.RoleTeacher), RequireStaff()}, http.StatusNoContent},
		{"exact role", []gin.HandlerFunc{withClaims(model.RoleStudent), RequireRole(model.RoleStudent)}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serve(tc.chain...).Code)
		})
	}
}

func TestNoStore(t *testing.T) {
	rec := serve(NoStore())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
