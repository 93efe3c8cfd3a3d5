package store

import (
	"context"
	"testing"
	"time"

	"bloglytics/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentStoreModerationFlow(t *testing.T) {
	ctx := context.Background()
	g := newTestDB(t)
	clock := newFakeClock()
	blogs := NewBlogStore(g)
	comments := NewCommentStore(g).WithClock(clock.Now)
	u := mustUser(t, g, "a@example.com", models.RoleBlogger)
	cat := mustCategory(t, g, "Tech")
	p := mustPost(t, blogs, u, cat, models.StatusPublished, 1)

	first := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "first", IsApproved: true}
	_, err := comments.Create(ctx, first)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	pending := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "needs review"}
	_, err = comments.Create(ctx, pending)
	require.NoError(t, err)

	public, err := comments.ListApprovedForPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "first", public[0].Content)

	queue, err := comments.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, pending.ID, queue[0].ID)
	assert.Equal(t, p.Title, queue[0].Post.Title)

	require.NoError(t, comments.Approve(ctx, pending.ID))
	require.NoError(t, comments.Approve(ctx, pending.ID))
	public, err = comments.ListApprovedForPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, pending.ID, public[0].ID, "newest first")

	require.NoError(t, comments.Reject(ctx, pending.ID))
	queue, err = comments.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 1)

	assert.ErrorIs(t, comments.Approve(ctx, 999), ErrNotFound)
}

func TestCommentStoreReplies(t *testing.T) {
	ctx := context.Background()
	g := newTestDB(t)
	blogs := NewBlogStore(g)
	comments := NewCommentStore(g)
	u := mustUser(t, g, "a@example.com", models.RoleBlogger)
	cat := mustCategory(t, g, "Tech")
	p1 := mustPost(t, blogs, u, cat, models.StatusPublished, 1)
	p2 := mustPost(t, blogs, u, cat, models.StatusPublished, 2)

	parent := &models.Comment{PostID: p1.ID, UserID: u.ID, Content: "parent", IsApproved: true}
	_, err := comments.Create(ctx, parent)
	require.NoError(t, err)

	reply := &models.Comment{PostID: p1.ID, UserID: u.ID, Content: "reply", ParentCommentID: &parent.ID, IsApproved: true}
	_, err = comments.Create(ctx, reply)
	require.NoError(t, err)

	_, err = comments.Create(ctx, &models.Comment{PostID: p2.ID, UserID: u.ID, Content: "wrong post", ParentCommentID: &parent.ID})
	assert.ErrorIs(t, err, ErrInvalidParent)
	missing := uint(999)
	_, err = comments.Create(ctx, &models.Comment{PostID: p1.ID, UserID: u.ID, Content: "orphan", ParentCommentID: &missing})
	assert.ErrorIs(t, err, ErrInvalidParent)

	top, err := comments.ListApprovedForPost(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Len(t, top[0].Replies, 1)
	assert.Equal(t, "reply", top[0].Replies[0].Content)

	n, err := comments.CountApprovedForPost(ctx, p1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	all, err := comments.ListForModeration(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed, err := comments.Delete(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	n, err = comments.CountApprovedForPost(ctx, p1.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommentStoreRecentApprovedByAuthor(t *testing.T) {
	ctx := context.Background()
	g := newTestDB(t)
	blogs := NewBlogStore(g)
	comments := NewCommentStore(g)
	alice := mustUser(t, g, "alice@example.com", models.RoleBlogger)
	bob := mustUser(t, g, "bob@example.com", models.RoleBlogger)
	cat := mustCategory(t, g, "Tech")
	pa := mustPost(t, blogs, alice, cat, models.StatusPublished, 1)
	pb := mustPost(t, blogs, bob, cat, models.StatusPublished, 2)

	for _, c := range []*models.Comment{
		{PostID: pa.ID, UserID: bob.ID, Content: "on alice", IsApproved: true},
		{PostID: pb.ID, UserID: alice.ID, Content: "on bob", IsApproved: true},
		{PostID: pa.ID, UserID: bob.ID, Content: "pending on alice"},
	} {
		_, err := comments.Create(ctx, c)
		require.NoError(t, err)
	}

	mine, err := comments.RecentApproved(ctx, &alice.ID, 5)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "on alice", mine[0].Content)

	everyone, err := comments.RecentApproved(ctx, nil, 5)
	require.NoError(t, err)
	assert.Len(t, everyone, 2)
}

func TestCommentStoreNestedReplies(t *testing.T) {
	ctx := context.Background()
	g := newTestDB(t)
	blogs := NewBlogStore(g)
	comments := NewCommentStore(g)
	u := mustUser(t, g, "a@example.com", models.RoleBlogger)
	cat := mustCategory(t, g, "Tech")
	p := mustPost(t, blogs, u, cat, models.StatusPublished, 1)

	root := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "root", IsApproved: true}
	_, err := comments.Create(ctx, root)
	require.NoError(t, err)
	reply := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "reply", ParentCommentID: &root.ID, IsApproved: true}
	_, err = comments.Create(ctx, reply)
	require.NoError(t, err)

	// 回复的回复挂到顶层评论下
	nested := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "reply to reply", ParentCommentID: &reply.ID, IsApproved: true}
	_, err = comments.Create(ctx, nested)
	require.NoError(t, err)
	require.NotNil(t, nested.ParentCommentID)
	assert.Equal(t, root.ID, *nested.ParentCommentID)

	top, err := comments.ListApprovedForPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Len(t, top[0].Replies, 2)
	assert.Equal(t, "reply to reply", top[0].Replies[1].Content)

	// 旧数据里可能已有多层回复
	deep := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "deep", ParentCommentID: &reply.ID, IsApproved: true}
	require.NoError(t, g.Omit("User", "Post").Create(deep).Error)
	deeper := &models.Comment{PostID: p.ID, UserID: u.ID, Content: "deeper", ParentCommentID: &deep.ID, IsApproved: true}
	require.NoError(t, g.Omit("User", "Post").Create(deeper).Error)

	removed, err := comments.Delete(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	var left int64
	require.NoError(t, g.Model(&models.Comment{}).Where("post_id = ?", p.ID).Count(&left).Error)
	assert.Zero(t, left)
}
