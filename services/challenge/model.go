package challenge

import "time"

// Challenge is a one-time token binding a claim to a short validity window.
// Immutable after creation except the used flag, which flips exactly once.
type Challenge struct {
	ID        string     `gorm:"column:id;primaryKey" json:"id"`
	UserID    string     `gorm:"column:user_id;index" json:"user_id"`
	Nonce     string     `gorm:"column:nonce" json:"nonce"`
	IssuedAt  time.Time  `gorm:"column:issued_at" json:"issued_at"`
	ExpiresAt time.Time  `gorm:"column:expires_at;index" json:"expires_at"`
	Used      bool       `gorm:"column:used" json:"used"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at,omitempty"`
}

func (Challenge) TableName() string { return "challenges" }
