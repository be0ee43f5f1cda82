package rediskey

import "fmt"

// Key prefixes shared across services. Rate-limit keys embed a time bucket so
// counters expire naturally with their window.
const (
	TargetTagPrefix  = "target:tag"
	UserHourlyPrefix = "rl:user:hour"
	UserBurstPrefix  = "rl:user:burst"
	TagHourlyPrefix  = "rl:tag:hour"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTargetTagKey returns "target:tag:{tagID}"
func BuildTargetTagKey(tagID string) string {
	return NamespaceKey(TargetTagPrefix, tagID)
}

// BuildUserHourlyKey returns "rl:user:hour:{userID}:{bucket}"
func BuildUserHourlyKey(userID, bucket string) string {
	return NamespaceKey(UserHourlyPrefix, fmt.Sprintf("%s:%s", userID, bucket))
}

// BuildUserBurstKey returns "rl:user:burst:{userID}:{bucket}"
func BuildUserBurstKey(userID, bucket string) string {
	return NamespaceKey(UserBurstPrefix, fmt.Sprintf("%s:%s", userID, bucket))
}

// BuildTagHourlyKey returns "rl:tag:hour:{tagID}:{bucket}"
func BuildTagHourlyKey(tagID, bucket string) string {
	return NamespaceKey(TagHourlyPrefix, fmt.Sprintf("%s:%s", tagID, bucket))
}
