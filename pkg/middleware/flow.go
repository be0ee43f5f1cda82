package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Flow identifies which claim entry point a request came through. The scan
// flow is the low-friction tag-scan path; the rich flow is the stricter
// anti-cheat path. Each flow carries its own cooldown and radius policy.
const (
	FlowRich = "rich"
	FlowScan = "scan"
)

const flowContextKey = "presence.flow"

// deriveFlowFromAPIKey guesses the entry point from the API key pattern.
func deriveFlowFromAPIKey(key string) string {
	switch {
	case strings.HasPrefix(key, "scan_"):
		return FlowScan
	case strings.HasPrefix(key, "app_"):
		return FlowRich
	default:
		return FlowRich
	}
}

// FlowTag stores the claim flow on the gin context based on x-api-key.
func FlowTag() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(flowContextKey, deriveFlowFromAPIKey(c.GetHeader("x-api-key")))
		c.Next()
	}
}

// GetFlow returns the current claim flow (default "rich").
func GetFlow(c *gin.Context) string {
	if v, ok := c.Get(flowContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return FlowRich
}
