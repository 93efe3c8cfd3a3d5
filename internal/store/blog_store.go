package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloglytics/internal/models"
	"bloglytics/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrendingWindow is how far back trending looks at publish dates.
const TrendingWindow = 30 * 24 * time.Hour

// trending score: 0.6*views + 0.4*likes
const trendingScoreSQL = "(blog_posts.view_count * 0.6 + (SELECT COUNT(*) FROM post_likes WHERE post_likes.post_id = blog_posts.id) * 0.4)"

type BlogStore struct {
	db       *gorm.DB
	now      Clock
	onChange []func()
}

func NewBlogStore(db *gorm.DB) *BlogStore {
	return &BlogStore{db: db, now: utcNow}
}

// OnChange registers fn to run after any post write, e.g. to drop cached
// category counts.
func (s *BlogStore) OnChange(fn func()) *BlogStore {
	s.onChange = append(s.onChange, fn)
	return s
}

func (s *BlogStore) changed() {
	for _, fn := range s.onChange {
		fn()
	}
}

func (s *BlogStore) WithClock(now Clock) *BlogStore {
	s.now = now
	return s
}

type AdminPostFilter struct {
	Status string
	Search string // title or author name
	Page   Page
}

func (s *BlogStore) Create(ctx context.Context, post *models.BlogPost) (uint, error) {
	now := s.now()
	post.ID = 0
	post.CreatedAt = now
	post.UpdatedAt = nil
	post.ViewCount = 0
	post.PublishedAt = nil
	if post.Status == "" {
		post.Status = models.StatusDraft
	}
	if post.Status == models.StatusPublished {
		post.PublishedAt = &now
	}
	post.Slug = utils.Slugify(post.Title)

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}
	s.changed()
	return post.ID, nil
}

// Get loads a post with author, category, like count and approved comment count.
func (s *BlogStore) Get(ctx context.Context, id uint) (*models.BlogPost, error) {
	var post models.BlogPost
	err := s.db.WithContext(ctx).Preload("Author").Preload("Category").First(&post, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	posts := []models.BlogPost{post}
	if err := s.fillCounts(ctx, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

// Update overwrites the editable fields. PublishedAt is only ever set once.
func (s *BlogStore) Update(ctx context.Context, post *models.BlogPost) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.BlogPost
		if err := tx.Select("id", "published_at").First(&existing, post.ID).Error; err != nil {
			return notFound(err)
		}

		now := s.now()
		publishedAt := firstPublish(existing.PublishedAt, post.Status, now)
		slug := utils.Slugify(post.Title)

		err := tx.Model(&models.BlogPost{}).Where("id = ?", post.ID).Updates(map[string]interface{}{
			"title":          post.Title,
			"slug":           slug,
			"content":        post.Content,
			"summary":        post.Summary,
			"featured_image": post.FeaturedImage,
			"category_id":    post.CategoryID,
			"status":         post.Status,
			"published_at":   publishedAt,
			"updated_at":     now,
		}).Error
		if err != nil {
			return fmt.Errorf("update post %d: %w", post.ID, err)
		}
		post.Slug = slug
		post.PublishedAt = publishedAt
		post.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	s.changed()
	return nil
}

// ChangeStatus is the admin shortcut for moving a post between states.
func (s *BlogStore) ChangeStatus(ctx context.Context, id uint, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("change status: invalid status %q", status)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.BlogPost
		if err := tx.Select("id", "published_at").First(&existing, id).Error; err != nil {
			return notFound(err)
		}
		now := s.now()
		return tx.Model(&models.BlogPost{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":       status,
			"published_at": firstPublish(existing.PublishedAt, status, now),
			"updated_at":   now,
		}).Error
	})
	if err != nil {
		return err
	}
	s.changed()
	return nil
}

func firstPublish(existing *time.Time, status string, now time.Time) *time.Time {
	if existing != nil {
		return existing
	}
	if status == models.StatusPublished {
		return &now
	}
	return nil
}

// Delete removes the post with its comments and likes. The featured image is
// left for the caller to release.
func (s *BlogStore) Delete(ctx context.Context, id uint) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.PostLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.BlogPost{}, id)
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete post %d: %w", id, err)
	}
	if removed {
		s.changed()
	}
	return removed, nil
}

func (s *BlogStore) published(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.BlogPost{}).
		Where("blog_posts.status = ?", models.StatusPublished).
		Session(&gorm.Session{})
}

// paged counts q, then loads one page of it newest-published first.
func (s *BlogStore) paged(ctx context.Context, q *gorm.DB, page Page) ([]models.BlogPost, int64, error) {
	page = page.normalize()
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	var posts []models.BlogPost
	err := q.Preload("Author").Preload("Category").
		Order("blog_posts.published_at DESC").
		Order("blog_posts.id DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		Find(&posts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	if err := s.fillCounts(ctx, posts); err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

func (s *BlogStore) ListPublished(ctx context.Context, page Page) ([]models.BlogPost, int64, error) {
	return s.paged(ctx, s.published(ctx), page)
}

func (s *BlogStore) ListByCategory(ctx context.Context, name string, page Page) ([]models.BlogPost, int64, error) {
	sub := s.db.Model(&models.Category{}).Select("id").Where("name = ?", name)
	return s.paged(ctx, s.published(ctx).Where("blog_posts.category_id IN (?)", sub), page)
}

// ListPublishedByAuthor pages one author's published posts.
func (s *BlogStore) ListPublishedByAuthor(ctx context.Context, authorID uint, page Page) ([]models.BlogPost, int64, error) {
	return s.paged(ctx, s.published(ctx).Where("blog_posts.author_id = ?", authorID), page)
}

// Search matches kw case-insensitively inside title, summary or content.
func (s *BlogStore) Search(ctx context.Context, kw string, page Page) ([]models.BlogPost, int64, error) {
	if strings.TrimSpace(kw) == "" {
		return s.ListPublished(ctx, page)
	}
	p := likePattern(kw)
	q := s.published(ctx).Where(
		`(LOWER(blog_posts.title) LIKE ? ESCAPE '\' OR LOWER(blog_posts.summary) LIKE ? ESCAPE '\' OR LOWER(blog_posts.content) LIKE ? ESCAPE '\')`,
		p, p, p,
	)
	return s.paged(ctx, q, page)
}

// Trending ranks posts published inside window by 0.6*views + 0.4*likes.
func (s *BlogStore) Trending(ctx context.Context, window time.Duration, limit int) ([]models.BlogPost, error) {
	cutoff := s.now().Add(-window)
	var posts []models.BlogPost
	err := s.published(ctx).
		Where("blog_posts.published_at >= ?", cutoff).
		Preload("Author").Preload("Category").
		Order(trendingScoreSQL + " DESC").
		Order("blog_posts.published_at DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("trending posts: %w", err)
	}
	return posts, s.fillCounts(ctx, posts)
}

func (s *BlogStore) Popular(ctx context.Context, limit int) ([]models.BlogPost, error) {
	return s.listOrdered(ctx, s.published(ctx), "blog_posts.view_count DESC", limit)
}

func (s *BlogStore) Recent(ctx context.Context, limit int) ([]models.BlogPost, error) {
	return s.listOrdered(ctx, s.published(ctx), "blog_posts.created_at DESC", limit)
}

// Related returns other published posts in the same category.
func (s *BlogStore) Related(ctx context.Context, post *models.BlogPost, limit int) ([]models.BlogPost, error) {
	q := s.published(ctx).Where("blog_posts.category_id = ? AND blog_posts.id <> ?", post.CategoryID, post.ID)
	return s.listOrdered(ctx, q, "blog_posts.published_at DESC", limit)
}

// ListByAuthor returns every post of the author, drafts included.
func (s *BlogStore) ListByAuthor(ctx context.Context, authorID uint, limit int) ([]models.BlogPost, error) {
	q := s.db.WithContext(ctx).Model(&models.BlogPost{}).Where("blog_posts.author_id = ?", authorID)
	return s.listOrdered(ctx, q, "blog_posts.created_at DESC", limit)
}

// TopByViews ranks posts of any status; authorID nil means all authors.
func (s *BlogStore) TopByViews(ctx context.Context, authorID *uint, limit int) ([]models.BlogPost, error) {
	q := s.db.WithContext(ctx).Model(&models.BlogPost{})
	if authorID != nil {
		q = q.Where("blog_posts.author_id = ?", *authorID)
	}
	return s.listOrdered(ctx, q, "blog_posts.view_count DESC", limit)
}

func (s *BlogStore) RecentByAuthor(ctx context.Context, authorID *uint, limit int) ([]models.BlogPost, error) {
	q := s.db.WithContext(ctx).Model(&models.BlogPost{})
	if authorID != nil {
		q = q.Where("blog_posts.author_id = ?", *authorID)
	}
	return s.listOrdered(ctx, q, "blog_posts.created_at DESC", limit)
}

func (s *BlogStore) listOrdered(ctx context.Context, q *gorm.DB, order string, limit int) ([]models.BlogPost, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var posts []models.BlogPost
	if err := q.Preload("Author").Preload("Category").Order(order).Order("blog_posts.id DESC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, s.fillCounts(ctx, posts)
}

// ListForAdmin lists posts of every status, newest first, with optional filters.
func (s *BlogStore) ListForAdmin(ctx context.Context, f AdminPostFilter) ([]models.BlogPost, int64, error) {
	page := f.Page.normalize()
	q := s.db.WithContext(ctx).Model(&models.BlogPost{})
	if f.Status != "" {
		q = q.Where("blog_posts.status = ?", f.Status)
	}
	if kw := strings.TrimSpace(f.Search); kw != "" {
		p := likePattern(kw)
		authors := s.db.Model(&models.User{}).Select("id").Where(`LOWER(full_name) LIKE ? ESCAPE '\'`, p)
		q = q.Where(`(LOWER(blog_posts.title) LIKE ? ESCAPE '\' OR blog_posts.author_id IN (?))`, p, authors)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count admin posts: %w", err)
	}
	var posts []models.BlogPost
	err := q.Preload("Author").Preload("Category").
		Order("blog_posts.created_at DESC").
		Order("blog_posts.id DESC").
		Limit(page.Size).Offset(page.Offset()).
		Find(&posts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list admin posts: %w", err)
	}
	return posts, total, s.fillCounts(ctx, posts)
}

// IncrementView bumps the counter in a single statement.
func (s *BlogStore) IncrementView(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.BlogPost{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment view %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Like inserts the (post, user) pair if absent. Reports whether a row was added.
func (s *BlogStore) Like(ctx context.Context, id, userID uint) (bool, error) {
	like := models.PostLike{PostID: id, UserID: userID, CreatedAt: s.now()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
	if res.Error != nil {
		return false, fmt.Errorf("like post %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Unlike reports whether a like row was removed.
func (s *BlogStore) Unlike(ctx context.Context, id, userID uint) (bool, error) {
	res := s.db.WithContext(ctx).Where("post_id = ? AND user_id = ?", id, userID).Delete(&models.PostLike{})
	if res.Error != nil {
		return false, fmt.Errorf("unlike post %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *BlogStore) HasLiked(ctx context.Context, id, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.PostLike{}).
		Where("post_id = ? AND user_id = ?", id, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("has liked: %w", err)
	}
	return n > 0, nil
}

func (s *BlogStore) LikeCount(ctx context.Context, id uint) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.PostLike{}).Where("post_id = ?", id).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("like count: %w", err)
	}
	return int(n), nil
}

// ToggleLike flips the like state and returns the new state and count.
func (s *BlogStore) ToggleLike(ctx context.Context, id, userID uint) (bool, int, error) {
	liked, err := s.HasLiked(ctx, id, userID)
	if err != nil {
		return false, 0, err
	}
	if liked {
		_, err = s.Unlike(ctx, id, userID)
	} else {
		_, err = s.Like(ctx, id, userID)
	}
	if err != nil {
		return false, 0, err
	}
	count, err := s.LikeCount(ctx, id)
	if err != nil {
		return false, 0, err
	}
	return !liked, count, nil
}

type postCount struct {
	PostID uint
	N      int
}

// fillCounts sets LikeCount and CommentCount (approved only) in place.
func (s *BlogStore) fillCounts(ctx context.Context, posts []models.BlogPost) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]uint, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}

	var likes, comments []postCount
	err := s.db.WithContext(ctx).Model(&models.PostLike{}).
		Select("post_id, COUNT(*) AS n").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&likes).Error
	if err != nil {
		return fmt.Errorf("count likes: %w", err)
	}
	err = s.db.WithContext(ctx).Model(&models.Comment{}).
		Select("post_id, COUNT(*) AS n").
		Where("post_id IN ? AND is_approved = ?", ids, true).
		Group("post_id").
		Scan(&comments).Error
	if err != nil {
		return fmt.Errorf("count comments: %w", err)
	}

	likeMap := make(map[uint]int, len(likes))
	for _, r := range likes {
		likeMap[r.PostID] = r.N
	}
	commentMap := make(map[uint]int, len(comments))
	for _, r := range comments {
		commentMap[r.PostID] = r.N
	}
	for i := range posts {
		posts[i].LikeCount = likeMap[posts[i].ID]
		posts[i].CommentCount = commentMap[posts[i].ID]
	}
	return nil
}

// Exists is a cheap id check used before writing likes and comments.
func (s *BlogStore) Exists(ctx context.Context, id uint) (bool, error) {
	var post models.BlogPost
	err := s.db.WithContext(ctx).Select("id").First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
