package models

import "time"

// Follow is a directed follower -> following edge. It is the single source of
// truth for both sides of the relationship; the counters on User are derived
// from it.
type Follow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FollowerID  uint      `gorm:"not null;uniqueIndex:idx_follow_edge;index:idx_follows_follower" json:"followerId"`
	FollowingID uint      `gorm:"not null;uniqueIndex:idx_follow_edge;index:idx_follows_following" json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`

	Follower  User `gorm:"foreignKey:FollowerID;constraint:OnDelete:CASCADE" json:"-"`
	Following User `gorm:"foreignKey:FollowingID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM
func (Follow) TableName() string {
	return "follows"
}
