package claim

import (
	"time"

	"gorm.io/datatypes"

	"presencegate/services/presence"
)

// VisitRecord is one granted reward. The unique challenge ID makes the grant
// idempotent under duplicate submissions; the window bucket serializes
// concurrent claims with distinct challenges on the same (user, tag) pair.
type VisitRecord struct {
	ID            string    `gorm:"column:id;primaryKey"`
	UserID        string    `gorm:"column:user_id;index:idx_visits_user_tag;uniqueIndex:idx_visits_window"`
	TagID         string    `gorm:"column:tag_id;index:idx_visits_user_tag;uniqueIndex:idx_visits_window"`
	WindowBucket  int64     `gorm:"column:window_bucket;uniqueIndex:idx_visits_window"`
	ChallengeID   string    `gorm:"column:challenge_id;uniqueIndex"`
	AuditID       string    `gorm:"column:audit_id"`
	PointsAwarded int64     `gorm:"column:points_awarded"`
	XPAwarded     int64     `gorm:"column:xp_awarded"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (VisitRecord) TableName() string { return "visit_records" }

type Balance struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Points    int64     `gorm:"column:points"`
	XP        int64     `gorm:"column:xp"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string { return "balances" }

// KnownDevice records a fingerprint seen on an accepted claim, with the raw
// attributes kept for similarity comparison against future devices.
type KnownDevice struct {
	ID            string         `gorm:"column:id;primaryKey"`
	UserID        string         `gorm:"column:user_id;index:idx_devices_user_fp,unique"`
	FingerprintID string         `gorm:"column:fingerprint_id;index:idx_devices_user_fp,unique"`
	Attributes    datatypes.JSON `gorm:"column:attributes"`
	SeenCount     int64          `gorm:"column:seen_count"`
	FirstSeen     time.Time      `gorm:"column:first_seen"`
	LastSeen      time.Time      `gorm:"column:last_seen"`
}

func (KnownDevice) TableName() string { return "known_devices" }

type ClaimRequest struct {
	UserID           string              `json:"user_id"`
	TagID            string              `json:"tag_id"`
	ChallengeID      string              `json:"challenge_id"`
	Nonce            string              `json:"nonce"`
	Samples          []presence.Sample   `json:"samples"`
	DeviceAttributes presence.Attributes `json:"device_attributes"`

	// Filled from transport context, not the request body.
	SessionID string `json:"-"`
	IP        string `json:"-"`
	Flow      string `json:"-"`
}

type Reward struct {
	Points int64 `json:"points"`
	XP     int64 `json:"xp"`
}

type Totals struct {
	Points int64 `json:"points"`
	XP     int64 `json:"xp"`
}

// Decision is the full outcome of one claim submission. Ordinary rejections
// are decisions, not errors.
type Decision struct {
	Accepted          bool     `json:"accepted"`
	Reason            string   `json:"reason,omitempty"`
	Flags             []string `json:"flags,omitempty"`
	Confidence        int      `json:"confidence"`
	DistanceMeters    float64  `json:"distance_meters,omitempty"`
	RetryAfterSeconds int64    `json:"retry_after_seconds,omitempty"`
	Reward            *Reward  `json:"reward,omitempty"`
	NewTotals         *Totals  `json:"new_totals,omitempty"`
}
