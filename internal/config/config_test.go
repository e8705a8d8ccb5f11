package config

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-product-scraper/internal/identity"
)

func TestDefaultSession(t *testing.T) {
	s := DefaultSession()

	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 4, s.Attempts())
	assert.Equal(t, 25*time.Second, s.RequestTimeout)
	assert.Equal(t, 2*time.Second, s.DelayMin)
	assert.Equal(t, 5*time.Second, s.DelayMax)
	assert.Equal(t, "chrome119", s.Impersonate)
	assert.Equal(t, identity.PerRequest, s.Rotation)
	assert.Empty(t, s.Proxies)
	assert.NoError(t, s.Validate())
}

func TestWithOverridesLeavesOriginal(t *testing.T) {
	base := DefaultSession()
	base.Proxies = []string{"http://proxy-a:8080"}

	retries := 7
	next := base.WithOverrides(Overrides{
		MaxRetries: &retries,
		Proxies:    []string{"http://proxy-b:8080"},
	})

	assert.Equal(t, 7, next.MaxRetries)
	assert.Equal(t, []string{"http://proxy-b:8080"}, next.Proxies)
	assert.Equal(t, 3, base.MaxRetries)
	assert.Equal(t, []string{"http://proxy-a:8080"}, base.Proxies)

	same := base.WithOverrides(Overrides{})
	same.Proxies[0] = "mutated"
	assert.Equal(t, "http://proxy-a:8080", base.Proxies[0])
}

func TestSessionValidate(t *testing.T) {
	s := DefaultSession()
	s.MaxRetries = -1
	s.DelayMin = 10 * time.Second
	s.Impersonate = "lynx"
	s.Proxies = []string{"ftp://nope:21", "::bad"}

	err := s.Validate()
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), KeyMaxRetries)
	assert.Contains(t, err.Error(), KeyDelay)
	assert.Contains(t, err.Error(), KeyImpersonate)
	assert.Contains(t, err.Error(), "unsupported proxy scheme")
	assert.Contains(t, err.Error(), "invalid proxy URL")
}

func TestSessionValidateMaxRetriesBound(t *testing.T) {
	_, err := ParseShorthand("MAX_RETRIES = 9223372036854775807")
	assert.ErrorContains(t, err, KeyMaxRetries)

	s := DefaultSession()
	s.MaxRetries = math.MaxInt
	assert.ErrorContains(t, s.Validate(), KeyMaxRetries)

	s.MaxRetries = MaxRetriesLimit
	assert.NoError(t, s.Validate())
	assert.Equal(t, MaxRetriesLimit+1, s.Attempts())
}

func TestLoadRejectsUnknownCountry(t *testing.T) {
	t.Setenv("SCRAPER_COUNTRY", "zz")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCRAPER_COUNTRY")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, "com", cfg.Scraper.Country)
	assert.Equal(t, FetchModeHTTP, cfg.Scraper.FetchMode)
	assert.Equal(t, DefaultSession(), cfg.Scraper.Session)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SCRAPER_MAX_RETRIES", "5")
	t.Setenv("SCRAPER_DELAY_MIN", "1s")
	t.Setenv("SCRAPER_DELAY_MAX", "3s")
	t.Setenv("SCRAPER_PROXIES", "http://a:1, http://b:2")
	t.Setenv("SCRAPER_SESSION", `DEFAULT_IMPERSONATE = "safari17_0", ROTATION_POLICY = sticky`)

	cfg, err := Load()
	require.NoError(t, err)

	s := cfg.Scraper.Session
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5, s.MaxRetries)
	assert.Equal(t, time.Second, s.DelayMin)
	assert.Equal(t, 3*time.Second, s.DelayMax)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, s.Proxies)
	assert.Equal(t, "safari17_0", s.Impersonate)
	assert.Equal(t, identity.Sticky, s.Rotation)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SCRAPER_FETCH_MODE", "carrier-pigeon")
	t.Setenv("SCRAPER_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCRAPER_FETCH_MODE")
	assert.Contains(t, err.Error(), "SCRAPER_WORKERS")
}

func TestLoadRejectsBadShorthand(t *testing.T) {
	t.Setenv("SCRAPER_SESSION", "MAX_RETRIES = lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCRAPER_SESSION")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", d.DSN())
}
