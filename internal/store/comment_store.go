package store

import (
	"context"
	"errors"
	"fmt"

	"bloglytics/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommentStore struct {
	db  *gorm.DB
	now Clock
}

func NewCommentStore(db *gorm.DB) *CommentStore {
	return &CommentStore{db: db, now: utcNow}
}

func (s *CommentStore) WithClock(now Clock) *CommentStore {
	s.now = now
	return s
}

// Create stores a comment. Approval is decided by the caller. A reply must
// point at a comment on the same post; replies to replies are attached to
// the top-level comment of the thread.
func (s *CommentStore) Create(ctx context.Context, c *models.Comment) (uint, error) {
	if c.ParentCommentID != nil {
		rootID, err := s.threadRoot(ctx, *c.ParentCommentID, c.PostID)
		if err != nil {
			return 0, err
		}
		c.ParentCommentID = &rootID
	}

	c.ID = 0
	c.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		return 0, fmt.Errorf("create comment: %w", err)
	}
	return c.ID, nil
}

// threadRoot walks up from id to the top-level comment of its thread.
func (s *CommentStore) threadRoot(ctx context.Context, id, postID uint) (uint, error) {
	seen := make(map[uint]bool)
	for {
		if seen[id] {
			return 0, ErrInvalidParent
		}
		seen[id] = true

		var parent models.Comment
		err := s.db.WithContext(ctx).Select("id", "post_id", "parent_comment_id").First(&parent, id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, ErrInvalidParent
			}
			return 0, fmt.Errorf("load parent comment: %w", err)
		}
		if parent.PostID != postID {
			return 0, ErrInvalidParent
		}
		if parent.ParentCommentID == nil {
			return parent.ID, nil
		}
		id = *parent.ParentCommentID
	}
}

func (s *CommentStore) Get(ctx context.Context, id uint) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).Preload("User").First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListApprovedForPost returns approved top-level comments, newest first,
// each with its approved replies attached oldest first.
func (s *CommentStore) ListApprovedForPost(ctx context.Context, postID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).Preload("User").
		Where("post_id = ? AND is_approved = ? AND parent_comment_id IS NULL", postID, true).
		Order("created_at DESC").Order("id DESC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	replies, err := s.ListApprovedReplies(ctx, postID)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].Replies = replies[comments[i].ID]
	}
	return comments, nil
}

// ListApprovedReplies groups approved replies of a post by parent id.
func (s *CommentStore) ListApprovedReplies(ctx context.Context, postID uint) (map[uint][]models.Comment, error) {
	var replies []models.Comment
	err := s.db.WithContext(ctx).Preload("User").
		Where("post_id = ? AND is_approved = ? AND parent_comment_id IS NOT NULL", postID, true).
		Order("created_at ASC").Order("id ASC").
		Find(&replies).Error
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	out := make(map[uint][]models.Comment)
	for _, r := range replies {
		out[*r.ParentCommentID] = append(out[*r.ParentCommentID], r)
	}
	return out, nil
}

func withPostTitle(db *gorm.DB) *gorm.DB {
	return db.Select("id", "title")
}

// ListPending is the moderation queue, newest first.
func (s *CommentStore) ListPending(ctx context.Context) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).Preload("User").Preload("Post", withPostTitle).
		Where("is_approved = ?", false).
		Order("created_at DESC").Order("id DESC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list pending comments: %w", err)
	}
	return comments, nil
}

// ListForModeration returns recent comments of any state, replies included.
func (s *CommentStore) ListForModeration(ctx context.Context, limit int) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).Preload("User").Preload("Post", withPostTitle).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments for moderation: %w", err)
	}
	return comments, nil
}

// RecentApproved lists approved comments on posts by authorID, or all posts when nil.
func (s *CommentStore) RecentApproved(ctx context.Context, authorID *uint, limit int) ([]models.Comment, error) {
	q := s.db.WithContext(ctx).Preload("User").Preload("Post", withPostTitle).
		Where("is_approved = ?", true)
	if authorID != nil {
		q = q.Where("post_id IN (?)", s.db.Model(&models.BlogPost{}).Select("id").Where("author_id = ?", *authorID))
	}
	var comments []models.Comment
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("recent comments: %w", err)
	}
	return comments, nil
}

func (s *CommentStore) Approve(ctx context.Context, id uint) error {
	return s.setApproved(ctx, id, true)
}

// Reject hides the comment again. There is no separate rejected state.
func (s *CommentStore) Reject(ctx context.Context, id uint) error {
	return s.setApproved(ctx, id, false)
}

func (s *CommentStore) setApproved(ctx context.Context, id uint, approved bool) error {
	res := s.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).UpdateColumn("is_approved", approved)
	if res.Error != nil {
		return fmt.Errorf("set comment %d approval: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the comment and every reply below it.
func (s *CommentStore) Delete(ctx context.Context, id uint) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var subtree []uint
		seen := map[uint]bool{id: true}
		level := []uint{id}
		for len(level) > 0 {
			var children []uint
			if err := tx.Model(&models.Comment{}).Where("parent_comment_id IN ?", level).Pluck("id", &children).Error; err != nil {
				return err
			}
			level = level[:0]
			for _, child := range children {
				if !seen[child] {
					seen[child] = true
					level = append(level, child)
				}
			}
			subtree = append(subtree, level...)
		}
		if len(subtree) > 0 {
			if err := tx.Where("id IN ?", subtree).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Comment{}, id)
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete comment %d: %w", id, err)
	}
	return removed, nil
}

func (s *CommentStore) CountApprovedForPost(ctx context.Context, postID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("post_id = ? AND is_approved = ?", postID, true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}
