package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/maltedev/amazon-product-scraper/internal/identity"
)

const (
	DefaultMaxRetries     = 3
	DefaultRequestTimeout = 25 * time.Second
	DefaultDelayMin       = 2 * time.Second
	DefaultDelayMax       = 5 * time.Second

	// MaxRetriesLimit caps MAX_RETRIES.
	MaxRetriesLimit = 100
)

// Session is the configuration of one fetch session. It is a value: once
// handed to a session it never changes, and WithOverrides returns a copy.
type Session struct {
	MaxRetries     int
	RequestTimeout time.Duration
	DelayMin       time.Duration
	DelayMax       time.Duration
	Impersonate    string
	Rotation       identity.Policy
	Proxies        []string
}

func DefaultSession() Session {
	return Session{
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: DefaultRequestTimeout,
		DelayMin:       DefaultDelayMin,
		DelayMax:       DefaultDelayMax,
		Impersonate:    identity.DefaultProfile,
		Rotation:       identity.PerRequest,
	}
}

// Attempts is the total number of attempts a fetch may make.
func (s Session) Attempts() int {
	return s.MaxRetries + 1
}

// Overrides holds optional replacements for Session fields. Nil fields keep
// the existing value.
type Overrides struct {
	MaxRetries     *int
	RequestTimeout *time.Duration
	DelayMin       *time.Duration
	DelayMax       *time.Duration
	Impersonate    *string
	Rotation       *identity.Policy
	Proxies        []string
}

// Merge layers other on top of o.
func (o Overrides) Merge(other Overrides) Overrides {
	if other.MaxRetries != nil {
		o.MaxRetries = other.MaxRetries
	}
	if other.RequestTimeout != nil {
		o.RequestTimeout = other.RequestTimeout
	}
	if other.DelayMin != nil {
		o.DelayMin = other.DelayMin
	}
	if other.DelayMax != nil {
		o.DelayMax = other.DelayMax
	}
	if other.Impersonate != nil {
		o.Impersonate = other.Impersonate
	}
	if other.Rotation != nil {
		o.Rotation = other.Rotation
	}
	if other.Proxies != nil {
		o.Proxies = other.Proxies
	}
	return o
}

// WithOverrides returns a new Session with the non-nil overrides applied.
// The receiver is left untouched.
func (s Session) WithOverrides(o Overrides) Session {
	out := s
	out.Proxies = append([]string(nil), s.Proxies...)

	if o.MaxRetries != nil {
		out.MaxRetries = *o.MaxRetries
	}
	if o.RequestTimeout != nil {
		out.RequestTimeout = *o.RequestTimeout
	}
	if o.DelayMin != nil {
		out.DelayMin = *o.DelayMin
	}
	if o.DelayMax != nil {
		out.DelayMax = *o.DelayMax
	}
	if o.Impersonate != nil {
		out.Impersonate = *o.Impersonate
	}
	if o.Rotation != nil {
		out.Rotation = *o.Rotation
	}
	if o.Proxies != nil {
		out.Proxies = append([]string(nil), o.Proxies...)
	}
	return out
}

func (s Session) Validate() error {
	var errs []error

	if s.MaxRetries < 0 {
		errs = append(errs, &Error{Key: KeyMaxRetries, Msg: "must not be negative"})
	}
	if s.MaxRetries > MaxRetriesLimit {
		errs = append(errs, &Error{Key: KeyMaxRetries, Msg: fmt.Sprintf("must be at most %d, got %d", MaxRetriesLimit, s.MaxRetries)})
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, &Error{Key: KeyRequestTimeout, Msg: "must be positive"})
	}
	if s.DelayMin < 0 || s.DelayMax < 0 {
		errs = append(errs, &Error{Key: KeyDelay, Msg: "delays must not be negative"})
	}
	if s.DelayMin > s.DelayMax {
		errs = append(errs, &Error{Key: KeyDelay, Msg: fmt.Sprintf("min %s exceeds max %s", s.DelayMin, s.DelayMax)})
	}
	if _, ok := identity.Lookup(s.Impersonate); !ok {
		errs = append(errs, &Error{Key: KeyImpersonate, Msg: fmt.Sprintf("unknown profile %q", s.Impersonate)})
	}
	if _, err := identity.ParsePolicy(string(s.Rotation)); err != nil {
		errs = append(errs, &Error{Key: KeyRotation, Msg: err.Error()})
	}
	for _, p := range s.Proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			errs = append(errs, &Error{Key: KeyProxies, Msg: fmt.Sprintf("invalid proxy URL %q", p)})
			continue
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			errs = append(errs, &Error{Key: KeyProxies, Msg: fmt.Sprintf("unsupported proxy scheme %q", u.Scheme)})
		}
	}

	return errors.Join(errs...)
}
