package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, parseOrigins(" http://a.test, ,http://b.test "))
}

func TestLoadTokenSettings(t *testing.T) {
	t.Setenv("TOKEN_DEFAULT_MINUTES", "30")
	t.Setenv("TOKEN_DEFAULT_MAX_USAGE", "5")
	t.Setenv("REQUIRE_ACCESS_TOKEN_ON_PUBLISH", "false")
	t.Setenv("VALIDATE_RATE_PER_MINUTE", "not-a-number")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.TokenDefaultDuration)
	assert.Equal(t, 5, cfg.TokenDefaultMaxUsage)
	assert.False(t, cfg.RequireAccessTokenOnPublish)
	assert.Equal(t, 10, cfg.ValidateRatePerMinute)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "exam:abc:questions", CacheKey.ExamQuestionsKey("abc"))
	assert.Equal(t, "exam:abc:monitor", CacheKey.ExamMonitorChannel("abc"))
	assert.Equal(t, "ratelimit:validate:7:42", CacheKey.RateLimitKey("validate", "7", 42))
}
