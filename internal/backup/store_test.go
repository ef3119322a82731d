package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confkeeper/confkeeper/internal/archive"
	"github.com/confkeeper/confkeeper/internal/manifest"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

// fakeVendor is a collaborator with scriptable behavior. Its Backup writes
// a real archive with a sequence number in the name, so repeated backups in
// the same second do not collide.
type fakeVendor struct {
	id        string
	configDir string
	installed bool
	sequence  int
}

var _ vendors.Collaborator = (*fakeVendor)(nil)

func (f *fakeVendor) VendorID() string  { return f.id }
func (f *fakeVendor) ConfigDir() string { return f.configDir }
func (f *fakeVendor) IsInstalled() bool { return f.installed }

func (f *fakeVendor) Backup(_ context.Context, destDir string) (string, error) {
	f.sequence++
	archivePath := filepath.Join(destDir, fmt.Sprintf("%s-%04d.tar.gz", f.id, f.sequence))
	return archivePath, archive.Create(archivePath, f.configDir, f.id)
}

func (*fakeVendor) Restore(context.Context, string) error { return nil }

func newFakeVendor(t *testing.T, id string) *fakeVendor {
	t.Helper()

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "settings.json"), []byte(`{"v":1}`), 0o644))
	return &fakeVendor{id: id, configDir: configDir, installed: true}
}

func TestBackupVendorNotInstalled(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 0)
	outcome := store.BackupVendor(context.Background(), &fakeVendor{id: "claude"}, nil)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorMessage, "not installed")
	assert.Nil(t, outcome.Record)
}

func TestBackupVendorRecordsManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root, 0)
	vendor := newFakeVendor(t, "claude")

	var messages []string
	outcome := store.BackupVendor(context.Background(), vendor, func(m string) {
		messages = append(messages, m)
	})

	require.True(t, outcome.Success, outcome.ErrorMessage)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, "claude", outcome.Record.VendorID)
	assert.Equal(t, 1, outcome.Record.FileCount)
	assert.Equal(t, vendor.configDir, outcome.Record.SourceConfigDir)
	assert.NotEmpty(t, outcome.Record.Checksum)
	assert.Positive(t, outcome.Record.SizeBytes)
	assert.NotEmpty(t, messages)

	records, err := manifest.NewStore(root).Load("claude")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, outcome.Record.ArchivePath, records[0].ArchivePath)

	_, err = os.Stat(outcome.Record.ArchivePath)
	assert.NoError(t, err)
}

func TestBackupVendorRetention(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root, 2)
	vendor := newFakeVendor(t, "claude")

	var archives []string
	for i := 0; i < 4; i++ {
		outcome := store.BackupVendor(context.Background(), vendor, nil)
		require.True(t, outcome.Success, outcome.ErrorMessage)
		archives = append(archives, outcome.Record.ArchivePath)
	}

	records, err := manifest.NewStore(root).Load("claude")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest two survive, older archives are removed from disk.
	assert.Equal(t, archives[3], records[0].ArchivePath)
	assert.Equal(t, archives[2], records[1].ArchivePath)
	for _, old := range archives[:2] {
		_, err := os.Stat(old)
		assert.True(t, os.IsNotExist(err), "pruned archive %s should be gone", old)
	}
}

func TestBackupVendorRetentionWithinOneSecond(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root, 2)

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "settings.json"), []byte(`{"v":1}`), 0o644))
	vendor := vendors.NewDirVendor("claude", configDir)

	// Rapid backups land in the same timestamp second; each must still get
	// its own archive, and retention must leave the survivors intact.
	for i := 0; i < 4; i++ {
		outcome := store.BackupVendor(context.Background(), vendor, nil)
		require.True(t, outcome.Success, outcome.ErrorMessage)
	}

	records, err := store.ListBackups("claude")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		_, err := os.Stat(r.ArchivePath)
		require.NoError(t, err)
	}
}

// samePathVendor always writes to the same archive path, the way a
// collaborator with a degenerate naming scheme would.
type samePathVendor struct {
	*fakeVendor
}

func (f *samePathVendor) Backup(_ context.Context, destDir string) (string, error) {
	archivePath := filepath.Join(destDir, f.id+"-fixed.tar.gz")
	return archivePath, archive.Create(archivePath, f.configDir, f.id)
}

func TestPruneKeepsArchiveSharedWithRetainedRecord(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root, 2)
	vendor := &samePathVendor{fakeVendor: newFakeVendor(t, "claude")}

	var archivePath string
	for i := 0; i < 4; i++ {
		outcome := store.BackupVendor(context.Background(), vendor, nil)
		require.True(t, outcome.Success, outcome.ErrorMessage)
		archivePath = outcome.Record.ArchivePath
	}

	// All records point at one file; pruning the older records must not
	// delete the archive the retained ones still reference.
	_, err := os.Stat(archivePath)
	require.NoError(t, err)

	records, err := store.ListBackups("claude")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestBackupAll(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 0)
	collaborators := []vendors.Collaborator{
		newFakeVendor(t, "claude"),
		&fakeVendor{id: "codex"}, // not installed
		newFakeVendor(t, "gemini"),
	}

	summary := store.BackupAll(context.Background(), collaborators, nil)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Positive(t, summary.TotalSizeBytes)
}

func TestListBackups(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 0)
	claude := newFakeVendor(t, "claude")
	gemini := newFakeVendor(t, "gemini")

	first := store.BackupVendor(context.Background(), claude, nil)
	require.True(t, first.Success)
	second := store.BackupVendor(context.Background(), claude, nil)
	require.True(t, second.Success)
	third := store.BackupVendor(context.Background(), gemini, nil)
	require.True(t, third.Success)

	all, err := store.ListBackups("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyClaude, err := store.ListBackups("claude")
	require.NoError(t, err)
	require.Len(t, onlyClaude, 2)
	assert.Equal(t, second.Record.ArchivePath, onlyClaude[0].ArchivePath)

	// Records whose archive file disappeared are dropped from listings.
	require.NoError(t, os.Remove(second.Record.ArchivePath))
	onlyClaude, err = store.ListBackups("claude")
	require.NoError(t, err)
	require.Len(t, onlyClaude, 1)
	assert.Equal(t, first.Record.ArchivePath, onlyClaude[0].ArchivePath)

	latest, err := store.LatestBackup("claude")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.Record.ArchivePath, latest.ArchivePath)

	latest, err = store.LatestBackup("codex")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestVerifyBackup(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 0)
	vendor := newFakeVendor(t, "claude")
	outcome := store.BackupVendor(context.Background(), vendor, nil)
	require.True(t, outcome.Success)

	t.Run("valid archive", func(t *testing.T) {
		ok, detail := store.VerifyBackup(outcome.Record.ArchivePath)
		assert.True(t, ok)
		assert.Contains(t, detail, "archive is valid")
	})

	t.Run("missing file", func(t *testing.T) {
		ok, detail := store.VerifyBackup(filepath.Join(t.TempDir(), "nope.tar.gz"))
		assert.False(t, ok)
		assert.Contains(t, detail, "does not exist")
	})

	t.Run("appended bytes fail the checksum", func(t *testing.T) {
		f, err := os.OpenFile(outcome.Record.ArchivePath, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("tampered")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		ok, detail := store.VerifyBackup(outcome.Record.ArchivePath)
		assert.False(t, ok)
		assert.Contains(t, detail, "checksum mismatch")
	})

	t.Run("truncated archive", func(t *testing.T) {
		second := store.BackupVendor(context.Background(), vendor, nil)
		require.True(t, second.Success)

		info, err := os.Stat(second.Record.ArchivePath)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(second.Record.ArchivePath, info.Size()/2))

		ok, detail := store.VerifyBackup(second.Record.ArchivePath)
		assert.False(t, ok)
		assert.Contains(t, detail, "invalid archive")
	})
}

func TestDeleteBackup(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root, 0)
	vendor := newFakeVendor(t, "claude")
	outcome := store.BackupVendor(context.Background(), vendor, nil)
	require.True(t, outcome.Success)

	assert.False(t, store.DeleteBackup(filepath.Join(root, "claude", "nope.tar.gz")))

	assert.True(t, store.DeleteBackup(outcome.Record.ArchivePath))
	_, err := os.Stat(outcome.Record.ArchivePath)
	assert.True(t, os.IsNotExist(err))

	records, err := manifest.NewStore(root).Load("claude")
	require.NoError(t, err)
	assert.Empty(t, records)
}
