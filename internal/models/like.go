package models

import (
	"time"
)

// PostLike marks that a user liked a post. One row per (post, user).
type PostLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_post_like_pair" json:"post_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_post_like_pair;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
