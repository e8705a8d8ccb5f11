// Package identity holds the browser fingerprints the fetch session presents
// and the rotation of those fingerprints between requests.
package identity

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type OS string

const (
	Windows OS = "Windows"
	MacOS   OS = "macOS"
	Linux   OS = "Linux"
)

type Browser string

const (
	Chrome Browser = "Chrome"
	Edge   Browser = "Edge"
	Safari Browser = "Safari"
)

// DefaultProfile mirrors the impersonation target used when nothing else is
// configured.
const DefaultProfile = "chrome119"

const defaultAcceptLanguage = "en-US,en;q=0.9"

// Profile is one coherent browser/OS fingerprint. Headers are derived from
// the browser family and OS so client hints never disagree with the
// User-Agent.
type Profile struct {
	Name      string
	OS        OS
	Browser   Browser
	Version   string
	UserAgent string
}

func (p Profile) String() string {
	return fmt.Sprintf("%s/%s", p.Name, p.OS)
}

// Chromium reports whether the profile sends Sec-Ch-Ua client hints.
func (p Profile) Chromium() bool {
	return p.Browser == Chrome || p.Browser == Edge
}

// Headers builds the full request header set for this profile.
// Accept-Encoding is left to the transport, which only advertises encodings
// it can decode.
func (p Profile) Headers(acceptLanguage string) http.Header {
	if acceptLanguage == "" {
		acceptLanguage = defaultAcceptLanguage
	}

	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")

	switch p.Browser {
	case Safari:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	default:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	}

	if p.Chromium() {
		h.Set("Sec-Ch-Ua", p.secChUa())
		h.Set("Sec-Ch-Ua-Mobile", "?0")
		h.Set("Sec-Ch-Ua-Platform", fmt.Sprintf("%q", platformHint(p.OS)))
	}

	return h
}

func (p Profile) secChUa() string {
	brand := "Google Chrome"
	if p.Browser == Edge {
		brand = "Microsoft Edge"
	}
	return fmt.Sprintf(`"%s";v="%s", "Chromium";v="%s", "Not?A_Brand";v="24"`, brand, p.Version, p.Version)
}

func platformHint(os OS) string {
	if os == MacOS {
		return "macOS"
	}
	return string(os)
}

var osTokens = map[OS]string{
	Windows: "Windows NT 10.0; Win64; x64",
	MacOS:   "Macintosh; Intel Mac OS X 10_15_7",
	Linux:   "X11; Linux x86_64",
}

func chromiumUA(os OS, browser Browser, version string) string {
	ua := fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", osTokens[os], version)
	if browser == Edge {
		ua += fmt.Sprintf(" Edg/%s.0.0.0", version)
	}
	return ua
}

func safariUA(version string) string {
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", osTokens[MacOS], version)
}

var registry = buildRegistry()

func buildRegistry() []Profile {
	var out []Profile
	for _, v := range []string{"119", "120"} {
		for _, os := range []OS{Windows, MacOS, Linux} {
			out = append(out, Profile{Name: "chrome" + v, OS: os, Browser: Chrome, Version: v, UserAgent: chromiumUA(os, Chrome, v)})
		}
		for _, os := range []OS{Windows, MacOS} {
			out = append(out, Profile{Name: "edge" + v, OS: os, Browser: Edge, Version: v, UserAgent: chromiumUA(os, Edge, v)})
		}
	}
	for _, v := range []string{"17.0", "17.1"} {
		name := "safari" + strings.ReplaceAll(v, ".", "_")
		out = append(out, Profile{Name: name, OS: MacOS, Browser: Safari, Version: v, UserAgent: safariUA(v)})
	}
	return out
}

// All returns a copy of every known profile.
func All() []Profile {
	out := make([]Profile, len(registry))
	copy(out, registry)
	return out
}

// Names lists the impersonation names accepted by Lookup.
func Names() []string {
	seen := map[string]bool{}
	var names []string
	for _, p := range registry {
		if !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Lookup finds a profile by impersonation name. The first registered OS
// variant wins, which is Windows for every Chromium family.
func Lookup(name string) (Profile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range registry {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

var acceptLanguages = map[string]string{
	"com":    "en-US,en;q=0.9",
	"co.uk":  "en-GB,en;q=0.9",
	"ca":     "en-CA,en;q=0.9",
	"com.au": "en-AU,en;q=0.9",
	"in":     "en-IN,en;q=0.9",
	"de":     "de-DE,de;q=0.9,en;q=0.8",
	"fr":     "fr-FR,fr;q=0.9,en;q=0.8",
	"it":     "it-IT,it;q=0.9,en;q=0.8",
	"es":     "es-ES,es;q=0.9,en;q=0.8",
	"co.jp":  "ja-JP,ja;q=0.9,en;q=0.8",
}

// AcceptLanguage picks a plausible Accept-Language for a storefront.
func AcceptLanguage(domainSuffix string) string {
	if v, ok := acceptLanguages[domainSuffix]; ok {
		return v
	}
	return defaultAcceptLanguage
}
