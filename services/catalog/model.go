package catalog

import "time"

// Target binds a scannable physical tag to its real-world location and the
// reward granted for a verified visit. Owned by the catalog; read-only to the
// validation engine.
type Target struct {
	TagID        string    `gorm:"column:tag_id;primaryKey" json:"tag_id"`
	Name         string    `gorm:"column:name" json:"name"`
	Latitude     float64   `gorm:"column:latitude" json:"latitude"`
	Longitude    float64   `gorm:"column:longitude" json:"longitude"`
	IsActive     bool      `gorm:"column:is_active;index" json:"is_active"`
	RewardPoints int64     `gorm:"column:reward_points" json:"reward_points"`
	RewardXP     int64     `gorm:"column:reward_xp" json:"reward_xp"`
	RadiusMeters float64   `gorm:"column:radius_meters" json:"radius_meters"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Target) TableName() string { return "targets" }
