package session

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ActionLogin    = "login"
	ActionClaim    = "claim"
	ActionValidate = "validate"
	ActionRevoke   = "revoke"
)

// ActivityLog is an append-only record of user actions. Anomaly scoring reads
// it back; nothing ever updates a row.
type ActivityLog struct {
	ID            string         `gorm:"column:id;primaryKey"`
	UserID        string         `gorm:"column:user_id;index"`
	SessionID     string         `gorm:"column:session_id;index"`
	Action        string         `gorm:"column:action"`
	IP            string         `gorm:"column:ip"`
	UserAgent     string         `gorm:"column:user_agent"`
	FingerprintID string         `gorm:"column:fingerprint_id"`
	Suspicious    bool           `gorm:"column:suspicious"`
	Flags         datatypes.JSON `gorm:"column:flags"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

type RevokedSession struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	SessionID string    `gorm:"column:session_id;uniqueIndex"`
	Reason    string    `gorm:"column:reason"`
	RevokedAt time.Time `gorm:"column:revoked_at"`
}

func (RevokedSession) TableName() string {
	return "revoked_sessions"
}
