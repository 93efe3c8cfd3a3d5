package models

import (
	"time"
)

const (
	RoleBlogger = "Blogger"
	RoleAdmin   = "Admin"
)

type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Email          string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash   string     `gorm:"not null" json:"-"` // argon2id
	FullName       string     `gorm:"size:100;not null" json:"full_name"`
	Role           string     `gorm:"size:20;not null" json:"role"` // Blogger, Admin
	IsActive       bool       `gorm:"not null" json:"is_active"`
	EmailConfirmed bool       `gorm:"not null" json:"email_confirmed"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLoginAt    *time.Time `json:"last_login_at"`

	// 非数据库字段，管理后台列表填充
	BlogCount    int `gorm:"-" json:"blog_count"`
	CommentCount int `gorm:"-" json:"comment_count"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanManage reports whether u may edit or delete content owned by authorID.
func (u *User) CanManage(authorID uint) bool {
	if u == nil {
		return false
	}
	return u.ID == authorID || u.IsAdmin()
}
