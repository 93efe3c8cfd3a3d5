package models

import (
	"time"
)

const MaxCommentLength = 1000

type Comment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PostID          uint      `gorm:"not null;index" json:"post_id"`
	Post            BlogPost  `gorm:"foreignKey:PostID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"post"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	User            User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user"`
	ParentCommentID *uint     `gorm:"index" json:"parent_comment_id"` // Nullable for top-level comments
	Content         string    `gorm:"size:1000;not null" json:"content"`
	IsApproved      bool      `gorm:"not null;index" json:"is_approved"`
	CreatedAt       time.Time `json:"created_at"`

	Replies []Comment `gorm:"-" json:"replies,omitempty"`
}

func (c *Comment) IsReply() bool {
	return c.ParentCommentID != nil
}
