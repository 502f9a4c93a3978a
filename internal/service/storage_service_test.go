package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"quizmark_backend/internal/config"
	"quizmark_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageArchive(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: root}}
	storage := NewStorageService(cfg)

	src := filepath.Join(t.TempDir(), "sujet.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0644))

	url := storage.Archive(context.Background(), "q1", src, util.MimePDF)
	assert.Equal(t, "/uploads/quizzes/q1/sujet.pdf", url)
	data, err := os.ReadFile(filepath.Join(root, "quizzes", "q1", "sujet.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestArchiveFailureIsNotFatal(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{LocalPath: t.TempDir()}}
	storage := NewStorageService(cfg)

	assert.Empty(t, storage.Archive(context.Background(), "q1", "/does/not/exist.pdf", util.MimePDF))

	var none *StorageService
	assert.Empty(t, none.Archive(context.Background(), "q1", "/does/not/exist.pdf", util.MimePDF))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	p := &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: t.TempDir()}}

	_, err := p.Put(context.Background(), "../outside.txt", nil, 0, util.MimeOctetStream)
	assert.ErrorIs(t, err, util.ErrInvalidFile)

	assert.ErrorIs(t, p.Delete(context.Background(), "../../etc/passwd"), util.ErrInvalidFile)
}
