package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const genesisHash = "GENESIS"

// Record is one immutable audit entry for a claim decision. Records form a
// per-user hash chain: each entry commits to the previous one, so silent
// tampering or deletion is detectable with VerifyChain.
type Record struct {
	ID               string         `gorm:"column:id;primaryKey" json:"id"`
	UserID           string         `gorm:"column:user_id;index" json:"user_id"`
	TagID            string         `gorm:"column:tag_id" json:"tag_id"`
	ChallengeID      string         `gorm:"column:challenge_id" json:"challenge_id"`
	FingerprintID    string         `gorm:"column:fingerprint_id" json:"fingerprint_id,omitempty"`
	Accepted         bool           `gorm:"column:accepted" json:"accepted"`
	Reason           string         `gorm:"column:reason" json:"reason,omitempty"`
	Confidence       int            `gorm:"column:confidence" json:"confidence"`
	Flags            datatypes.JSON `gorm:"column:flags" json:"flags"`
	DistanceMeters   float64        `gorm:"column:distance_meters" json:"distance_meters"`
	SampleLat        float64        `gorm:"column:sample_lat" json:"sample_lat"`
	SampleLon        float64        `gorm:"column:sample_lon" json:"sample_lon"`
	SampleCapturedAt int64          `gorm:"column:sample_captured_at" json:"sample_captured_at"`
	VisitID          string         `gorm:"column:visit_id" json:"visit_id,omitempty"`
	PreviousHash     string         `gorm:"column:previous_hash" json:"previous_hash"`
	Hash             string         `gorm:"column:hash" json:"hash"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Record) TableName() string {
	return "audit_records"
}

// HashFields returns the canonical field map the chain hash covers. VisitID
// is excluded: it is backfilled after the reward commit and must not break
// the chain.
func (r *Record) HashFields() map[string]string {
	return map[string]string{
		"id":                 r.ID,
		"user_id":            r.UserID,
		"tag_id":             r.TagID,
		"challenge_id":       r.ChallengeID,
		"fingerprint_id":     r.FingerprintID,
		"accepted":           fmt.Sprintf("%t", r.Accepted),
		"reason":             r.Reason,
		"confidence":         fmt.Sprintf("%d", r.Confidence),
		"flags":              string(r.Flags),
		"distance_meters":    fmt.Sprintf("%.3f", r.DistanceMeters),
		"sample_lat":         fmt.Sprintf("%.7f", r.SampleLat),
		"sample_lon":         fmt.Sprintf("%.7f", r.SampleLon),
		"sample_captured_at": fmt.Sprintf("%d", r.SampleCapturedAt),
		"created_at":         r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":      r.PreviousHash,
	}
}

func (r *Record) GenerateHash() string {
	fields := r.HashFields()
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
