package db

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"bloglytics/internal/config"
	"bloglytics/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 每次 Init 返回各自独立的连接
func TestInitReturnsIndependentHandles(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	first, err := Init(config.Config{DBDriver: "sqlite", DatabaseURL: filepath.Join(dir, "a.db")}, log)
	require.NoError(t, err)
	second, err := Init(config.Config{DBDriver: "sqlite", DatabaseURL: filepath.Join(dir, "b.db")}, log)
	require.NoError(t, err)

	require.NoError(t, first.Create(&models.Category{Name: "Only In First", IsActive: true}).Error)

	var n1, n2 int64
	require.NoError(t, first.Model(&models.Category{}).Count(&n1).Error)
	require.NoError(t, second.Model(&models.Category{}).Count(&n2).Error)
	assert.Equal(t, int64(6), n1)
	assert.Equal(t, int64(5), n2)

	// 重复 seed 不会插入第二份
	require.NoError(t, SeedCategories(second, log))
	require.NoError(t, second.Model(&models.Category{}).Count(&n2).Error)
	assert.Equal(t, int64(5), n2)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.ErrorContains(t, err, "unsupported db driver")
}
