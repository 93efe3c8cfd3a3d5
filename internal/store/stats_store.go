package store

import (
	"context"
	"fmt"
	"time"

	"bloglytics/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// AdminStats is the site-wide rollup shown on the admin overview.
type AdminStats struct {
	TotalUsers      int64
	TotalBlogs      int64
	PublishedBlogs  int64
	DraftBlogs      int64
	TotalComments   int64
	PendingComments int64
	TotalCategories int64
	TotalViews      int64
}

// DashboardStats is scoped to one author, or global for admins.
type DashboardStats struct {
	TotalPosts     int64
	DraftPosts     int64
	TotalViews     int64
	TotalComments  int64
	TotalUsers     int64
	PostsThisMonth int64
}

type rollup struct {
	op  string
	dst *int64
	b   sq.SelectBuilder
}

// StatsStore runs read-only aggregate queries. Nothing is cached.
type StatsStore struct {
	db  *sqlx.DB
	ph  sq.PlaceholderFormat
	obs *observer
	now Clock
}

// NewStatsStore shares the gorm connection pool.
func NewStatsStore(g *gorm.DB, opts ...StatsOption) (*StatsStore, error) {
	sqlDB, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("stats store: %w", err)
	}

	driver, ph := "sqlite3", sq.PlaceholderFormat(sq.Question)
	if g.Dialector.Name() == "postgres" {
		driver, ph = "pgx", sq.Dollar
	}
	return &StatsStore{
		db:  sqlx.NewDb(sqlDB, driver),
		ph:  ph,
		obs: newObserver(g.Dialector.Name(), opts...),
		now: utcNow,
	}, nil
}

func (s *StatsStore) WithClock(now Clock) *StatsStore {
	s.now = now
	return s
}

func count(table string) sq.SelectBuilder {
	return sq.Select("COUNT(*)").From(table)
}

func (s *StatsStore) scalar(ctx context.Context, op string, b sq.SelectBuilder) (int64, error) {
	query, args, err := b.PlaceholderFormat(s.ph).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s: %w", op, err)
	}
	var n int64
	err = s.obs.observe(ctx, op, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &n, query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *StatsStore) run(ctx context.Context, queries []rollup) error {
	for _, q := range queries {
		n, err := s.scalar(ctx, q.op, q.b)
		if err != nil {
			return err
		}
		*q.dst = n
	}
	return nil
}

func (s *StatsStore) AdminStats(ctx context.Context) (AdminStats, error) {
	var st AdminStats
	queries := []rollup{
		{"active_users", &st.TotalUsers, count("users").Where(sq.Eq{"is_active": true})},
		{"total_blogs", &st.TotalBlogs, count("blog_posts")},
		{"published_blogs", &st.PublishedBlogs, count("blog_posts").Where(sq.Eq{"status": models.StatusPublished})},
		{"draft_blogs", &st.DraftBlogs, count("blog_posts").Where(sq.Eq{"status": models.StatusDraft})},
		{"total_comments", &st.TotalComments, count("comments")},
		{"pending_comments", &st.PendingComments, count("comments").Where(sq.Eq{"is_approved": false})},
		{"active_categories", &st.TotalCategories, count("categories").Where(sq.Eq{"is_active": true})},
		{"total_views", &st.TotalViews, sq.Select("COALESCE(SUM(view_count), 0)").From("blog_posts")},
	}
	if err := s.run(ctx, queries); err != nil {
		return AdminStats{}, err
	}
	return st, nil
}

// DashboardStats counts for authorID, or for the whole site when nil.
// TotalUsers is only filled for the site-wide view.
func (s *StatsStore) DashboardStats(ctx context.Context, authorID *uint) (DashboardStats, error) {
	var st DashboardStats

	posts := func(b sq.SelectBuilder) sq.SelectBuilder {
		if authorID != nil {
			return b.Where(sq.Eq{"author_id": *authorID})
		}
		return b
	}
	comments := count("comments").Where(sq.Eq{"is_approved": true})
	if authorID != nil {
		comments = comments.Where(sq.Expr("post_id IN (SELECT id FROM blog_posts WHERE author_id = ?)", *authorID))
	}
	cutoff := s.now().Add(-30 * 24 * time.Hour)

	queries := []rollup{
		{"dashboard_published", &st.TotalPosts, posts(count("blog_posts").Where(sq.Eq{"status": models.StatusPublished}))},
		{"dashboard_drafts", &st.DraftPosts, posts(count("blog_posts").Where(sq.Eq{"status": models.StatusDraft}))},
		{"dashboard_views", &st.TotalViews, posts(sq.Select("COALESCE(SUM(view_count), 0)").From("blog_posts"))},
		{"dashboard_comments", &st.TotalComments, comments},
		{"dashboard_recent_posts", &st.PostsThisMonth, posts(count("blog_posts").Where(sq.Eq{"status": models.StatusPublished}).Where(sq.GtOrEq{"published_at": cutoff}))},
	}
	if authorID == nil {
		queries = append(queries, rollup{"dashboard_users", &st.TotalUsers, count("users").Where(sq.Eq{"is_active": true})})
	}

	if err := s.run(ctx, queries); err != nil {
		return DashboardStats{}, err
	}
	return st, nil
}
