package policy

import (
	"regexp"
	"strings"
)

// OptOutDetector identifies inbound messages that ask to stop contact, so the
// flag can be set without waiting for a model round trip.
type OptOutDetector struct {
	re *regexp.Regexp
}

// NewOptOutDetector returns a keyword detector covering the Spanish and
// English phrasings we see on the channel.
func NewOptOutDetector() *OptOutDetector {
	return &OptOutDetector{
		re: regexp.MustCompile(`(?i)^(?:por\s+favor\s+|please\s+)?(stop|baja|unsubscribe|no\s+me\s+(escribas|contacten|contactes)|no\s+contactar|dejen?\s+de\s+escribir(me)?)\b`),
	}
}

// IsOptOut returns true when the body reads as an opt-out request.
func (d *OptOutDetector) IsOptOut(body string) bool {
	if d == nil || d.re == nil {
		return false
	}
	return d.re.MatchString(strings.TrimSpace(body))
}
