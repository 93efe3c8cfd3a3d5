package models

import (
	"time"
)

const (
	StatusDraft     = "Draft"
	StatusPublished = "Published"
	StatusArchived  = "Archived"
)

// ValidStatus reports whether s is one of the post lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

type BlogPost struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Title         string     `gorm:"size:200;not null" json:"title"`
	Slug          string     `gorm:"size:100;index" json:"slug"` // not unique
	Content       string     `gorm:"type:text;not null" json:"content"`
	Summary       string     `gorm:"size:500" json:"summary"`
	FeaturedImage string     `gorm:"size:500" json:"featured_image"` // blob reference path
	AuthorID      uint       `gorm:"not null;index" json:"author_id"`
	Author        User       `gorm:"foreignKey:AuthorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	CategoryID    uint       `gorm:"not null;index" json:"category_id"`
	Category      Category   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"category"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	ViewCount     int        `gorm:"not null;default:0" json:"view_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
	PublishedAt   *time.Time `gorm:"index" json:"published_at"` // 首次发布时写入，之后不变

	// 非数据库字段，用于查询时填充
	LikeCount    int `gorm:"-" json:"like_count"`
	CommentCount int `gorm:"-" json:"comment_count"`
}

func (p *BlogPost) IsPublished() bool {
	return p.Status == StatusPublished
}
