package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncIgnoreList_DefaultAndCustomRules(t *testing.T) {
	baseDir := t.TempDir()
	ignore := NewSyncIgnoreList(baseDir)

	// defaults apply without an ignore file
	ignore.Load()
	assert.True(t, ignore.ShouldIgnore(".DS_Store"))
	assert.True(t, ignore.ShouldIgnore("docs/.DS_Store"))
	assert.True(t, ignore.ShouldIgnore("docs/report.docx.tmp"))
	assert.True(t, ignore.ShouldIgnore(".cloudsync-tmp-123"))
	assert.True(t, ignore.ShouldIgnore("docs/.cloudsync-tmp-123"))
	assert.True(t, ignore.ShouldIgnore(".syncignore"))
	assert.False(t, ignore.ShouldIgnore("docs/report.docx"))
	assert.False(t, ignore.ShouldIgnore("build/out.bin"))

	custom := []byte(`
# comment
build/
*.bin
`)
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, ".syncignore"), custom, 0o644))
	ignore.Load()

	assert.True(t, ignore.ShouldIgnore("build/out.txt"))
	assert.True(t, ignore.ShouldIgnore("media/video.bin"))
	assert.False(t, ignore.ShouldIgnore("docs/report.docx"))
}

func TestSyncIgnoreList_NotLoaded(t *testing.T) {
	ignore := NewSyncIgnoreList(t.TempDir())
	assert.False(t, ignore.ShouldIgnore(".DS_Store"))
}
