package identity

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDefault(t *testing.T) {
	p, ok := Lookup(DefaultProfile)
	require.True(t, ok)
	assert.Equal(t, Chrome, p.Browser)
	assert.Equal(t, Windows, p.OS)
	assert.Contains(t, p.UserAgent, "Chrome/119")

	_, ok = Lookup("netscape4")
	assert.False(t, ok)
}

func TestProfileHeadersConsistent(t *testing.T) {
	for _, p := range All() {
		t.Run(p.String(), func(t *testing.T) {
			h := p.Headers("")

			assert.Equal(t, p.UserAgent, h.Get("User-Agent"))
			assert.Equal(t, "en-US,en;q=0.9", h.Get("Accept-Language"))
			assert.Empty(t, h.Get("Accept-Encoding"))

			if !p.Chromium() {
				assert.Empty(t, h.Get("Sec-Ch-Ua"))
				assert.Empty(t, h.Get("Sec-Ch-Ua-Platform"))
				return
			}

			assert.Contains(t, h.Get("Sec-Ch-Ua"), `v="`+p.Version+`"`)
			platform := strings.Trim(h.Get("Sec-Ch-Ua-Platform"), `"`)
			switch p.OS {
			case Windows:
				assert.Equal(t, "Windows", platform)
				assert.Contains(t, p.UserAgent, "Windows NT")
			case MacOS:
				assert.Equal(t, "macOS", platform)
				assert.Contains(t, p.UserAgent, "Macintosh")
			case Linux:
				assert.Equal(t, "Linux", platform)
				assert.Contains(t, p.UserAgent, "Linux")
			}
			if p.Browser == Edge {
				assert.Contains(t, p.UserAgent, "Edg/")
				assert.Contains(t, h.Get("Sec-Ch-Ua"), "Microsoft Edge")
			}
		})
	}
}

func TestDefaultHeadersMatchChrome119(t *testing.T) {
	p, _ := Lookup("chrome119")
	h := p.Headers("")

	assert.Equal(t, `"Google Chrome";v="119", "Chromium";v="119", "Not?A_Brand";v="24"`, h.Get("Sec-Ch-Ua"))
	assert.Equal(t, `"Windows"`, h.Get("Sec-Ch-Ua-Platform"))
	assert.Equal(t, "?0", h.Get("Sec-Ch-Ua-Mobile"))
	assert.Equal(t, "navigate", h.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "1", h.Get("Upgrade-Insecure-Requests"))
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "de-DE,de;q=0.9,en;q=0.8", AcceptLanguage("de"))
	assert.Equal(t, "en-US,en;q=0.9", AcceptLanguage("nowhere"))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PerRequest, false},
		{"per-request", PerRequest, false},
		{"PER_ATTEMPT", PerAttempt, false},
		{" sticky ", Sticky, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRotatorPolicies(t *testing.T) {
	newRotator := func(p Policy) *Rotator {
		r, err := NewRotatorWithSource("chrome119", p, rand.NewSource(1))
		require.NoError(t, err)
		return r
	}

	t.Run("sticky never changes", func(t *testing.T) {
		r := newRotator(Sticky)
		start := r.Current()
		r.BeginRequest()
		r.BeginAttempt()
		r.OnFailure()
		assert.Equal(t, start, r.Current())
		assert.Equal(t, "chrome119", r.Current().Name)
	})

	t.Run("per-request rotates on request and failure only", func(t *testing.T) {
		r := newRotator(PerRequest)
		start := r.Current()
		first := r.BeginRequest()
		assert.Equal(t, start, first)
		assert.Equal(t, first, r.BeginAttempt())
		second := r.BeginRequest()
		assert.NotEqual(t, first, second)
		assert.NotEqual(t, second, r.OnFailure())
	})

	t.Run("per-attempt rotates every attempt", func(t *testing.T) {
		r := newRotator(PerAttempt)
		start := r.Current()
		a := r.BeginAttempt()
		assert.Equal(t, start, a)
		b := r.BeginAttempt()
		assert.NotEqual(t, a, b)
		assert.Equal(t, b, r.BeginRequest())
	})

	t.Run("failure before any request still rotates", func(t *testing.T) {
		r := newRotator(PerRequest)
		start := r.Current()
		failed := r.OnFailure()
		assert.NotEqual(t, start, failed)
		assert.NotEqual(t, failed, r.BeginRequest())
	})
}

func TestNewRotatorUnknownProfile(t *testing.T) {
	_, err := NewRotator("lynx", PerRequest)
	assert.Error(t, err)
}
