package presence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Attributes are the client/environment traits a device reports. All fields
// are optional; the confidence score reflects how many are populated.
type Attributes struct {
	UserAgent        string `json:"user_agent,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	Platform         string `json:"platform,omitempty"`
	Vendor           string `json:"vendor,omitempty"`
	CookiesEnabled   *bool  `json:"cookies_enabled,omitempty"`
	DoNotTrack       *bool  `json:"do_not_track,omitempty"`
}

func (a Attributes) hashFields() map[string]string {
	return map[string]string{
		"user_agent":        a.UserAgent,
		"screen_resolution": a.ScreenResolution,
		"timezone":          a.Timezone,
		"language":          a.Language,
		"platform":          a.Platform,
		"vendor":            a.Vendor,
		"cookies_enabled":   boolField(a.CookiesEnabled),
		"do_not_track":      boolField(a.DoNotTrack),
	}
}

func boolField(b *bool) string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("%t", *b)
}

// Fingerprint derives the stable identity hash for a set of attributes.
func Fingerprint(a Attributes) string {
	fields := a.hashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// AttributeConfidence scores how identifying a set of attributes is, 0-100.
// More populated attributes mean a more stable fingerprint.
func AttributeConfidence(a Attributes) int {
	score := 0
	if a.UserAgent != "" {
		score += 25
	}
	if a.ScreenResolution != "" {
		score += 15
	}
	if a.Timezone != "" {
		score += 15
	}
	if a.Platform != "" {
		score += 15
	}
	if a.Language != "" {
		score += 10
	}
	if a.Vendor != "" {
		score += 10
	}
	if a.CookiesEnabled != nil {
		score += 5
	}
	if a.DoNotTrack != nil {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// BrowserFamily classifies a user agent into a coarse browser family.
func BrowserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg"):
		return "edge"
	case strings.Contains(ua, "opr"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "chrome"):
		return "chrome"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "safari"):
		return "safari"
	default:
		return "unknown"
	}
}

// Similar reports whether two attribute sets plausibly describe the same
// device. Identical hashes always match; otherwise the stable traits are
// compared and the match ratio must reach the threshold.
func Similar(a, b Attributes, threshold float64) bool {
	if Fingerprint(a) == Fingerprint(b) {
		return true
	}

	matches := 0
	if a.Platform == b.Platform {
		matches++
	}
	if a.Timezone == b.Timezone {
		matches++
	}
	if a.Language == b.Language {
		matches++
	}
	if a.Vendor == b.Vendor {
		matches++
	}
	if BrowserFamily(a.UserAgent) == BrowserFamily(b.UserAgent) {
		matches++
	}

	return float64(matches)/5.0 >= threshold
}
