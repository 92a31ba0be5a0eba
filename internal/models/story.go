package models

import (
	"time"

	"gorm.io/gorm"
)

// MediaType is the kind of media attached to a story.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether m is a supported media kind.
func (m MediaType) Valid() bool {
	return m == MediaTypeImage || m == MediaTypeVideo
}

// MaxCaptionLength is the caption limit in characters.
const MaxCaptionLength = 500

// CTAButton is an optional call-to-action rendered over a story.
type CTAButton struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// Story is a 24-hour media post. Rows are never hard-deleted; IsActive=false
// marks soft-deleted and swept stories.
type Story struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	UserID     uint         `gorm:"not null;index:idx_stories_user_created,priority:1" json:"userId"`
	User       *UserSummary `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ProductID  *uint        `gorm:"index" json:"productId,omitempty"`
	Product    *Product     `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	MediaType  MediaType    `gorm:"type:varchar(10);not null" json:"mediaType"`
	MediaURL   string       `gorm:"not null" json:"mediaUrl"`
	Thumbnail  string       `json:"thumbnail,omitempty"`
	Caption    string       `gorm:"size:500" json:"caption"`
	DurationMs int          `gorm:"not null" json:"duration"`
	ViewCount  int          `gorm:"not null;default:0" json:"viewCount"`
	LikeCount  int          `gorm:"not null;default:0" json:"likeCount"`
	IsActive   bool         `gorm:"not null;default:true;index:idx_stories_active_expires,priority:1" json:"isActive"`
	ExpiresAt  time.Time    `gorm:"not null;index:idx_stories_active_expires,priority:2" json:"expiresAt"`
	CTAText    string       `gorm:"column:cta_text" json:"-"`
	CTALink    string       `gorm:"column:cta_link" json:"-"`

	Views []StoryView `gorm:"foreignKey:StoryID" json:"views,omitempty"`

	// CTA is the API shape of CTAText/CTALink.
	CTA *CTAButton `gorm:"-" json:"ctaButton,omitempty"`
	// IsLiked reports whether the requesting user liked the story; computed per request.
	IsLiked bool `gorm:"-" json:"isLiked"`

	CreatedAt time.Time `gorm:"index:idx_stories_user_created,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Story) TableName() string {
	return "stories"
}

// IsLive reports whether the story is active and not yet past its expiry.
func (s *Story) IsLive(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// HasBeenViewedBy reports whether userID appears in the loaded view list.
func (s *Story) HasBeenViewedBy(userID uint) bool {
	for _, v := range s.Views {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// SetCTA copies a call-to-action onto the persisted columns.
func (s *Story) SetCTA(cta *CTAButton) {
	if cta == nil {
		s.CTAText, s.CTALink = "", ""
		return
	}
	s.CTAText, s.CTALink = cta.Text, cta.Link
}

// AfterFind populates the API-facing CTA field.
func (s *Story) AfterFind(_ *gorm.DB) error {
	s.fillCTA()
	return nil
}

func (s *Story) fillCTA() {
	if s.CTAText == "" && s.CTALink == "" {
		s.CTA = nil
		return
	}
	s.CTA = &CTAButton{Text: s.CTAText, Link: s.CTALink}
}

// StoryView records the first time a user viewed a story.
type StoryView struct {
	ID       uint         `gorm:"primaryKey" json:"-"`
	StoryID  uint         `gorm:"not null;uniqueIndex:idx_story_view" json:"-"`
	UserID   uint         `gorm:"not null;uniqueIndex:idx_story_view;index" json:"userId"`
	User     *UserSummary `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ViewedAt time.Time    `gorm:"not null" json:"viewedAt"`
}

// TableName specifies the table name for GORM
func (StoryView) TableName() string {
	return "story_views"
}

// StoryLike is one membership in a story's like set.
type StoryLike struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	StoryID   uint      `gorm:"not null;uniqueIndex:idx_story_like" json:"storyId"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_story_like;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name for GORM
func (StoryLike) TableName() string {
	return "story_likes"
}

// FeedGroup bundles one author's live stories for a viewer.
type FeedGroup struct {
	User        UserSummary `json:"user"`
	Stories     []Story     `json:"stories"`
	HasUnviewed bool        `json:"hasUnviewed"`
}
