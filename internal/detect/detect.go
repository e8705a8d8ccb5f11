// Package detect classifies fetched page bodies as usable or as an
// anti-automation block page.
package detect

import "strings"

// Signatures are matched case-insensitively against the raw body.
var Signatures = []string{
	"captcha",
	"api-services-support@amazon.com",
}

// Verdict is the result of Classify. Reason names the matched signature.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Classify flags a body as blocked when it contains any signature. False
// positives are acceptable: the caller retries instead of parsing.
func Classify(body string) Verdict {
	lower := strings.ToLower(body)
	for _, sig := range Signatures {
		if strings.Contains(lower, sig) {
			return Verdict{Blocked: true, Reason: "matched " + sig}
		}
	}
	return Verdict{}
}

// IsBlocked is shorthand for Classify(body).Blocked.
func IsBlocked(body string) bool {
	return Classify(body).Blocked
}
