package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPathSafe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"simple file", "settings.json", true},
		{"nested file", "agents/reviewer.md", true},
		{"dot", ".", true},
		{"empty", "", true},
		{"internal dot-dot that stays inside", "agents/../skills/x.md", true},
		{"parent escape", "../evil.txt", false},
		{"deep escape", "agents/../../evil.txt", false},
		{"absolute path", "/etc/passwd", false},
		{"null byte", "evil\x00.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsPathSafe(tt.path, "/backups/dest"))
		})
	}
}

func TestIsMemberSafe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member Member
		want   bool
	}{
		{
			name:   "regular file",
			member: Member{Path: "agents/reviewer.md", TypeFlag: tar.TypeReg},
			want:   true,
		},
		{
			name:   "symlink to sibling",
			member: Member{Path: "agents/link.md", TypeFlag: tar.TypeSymlink, LinkTarget: "reviewer.md"},
			want:   true,
		},
		{
			name:   "symlink into subdirectory",
			member: Member{Path: "link", TypeFlag: tar.TypeSymlink, LinkTarget: "agents/reviewer.md"},
			want:   true,
		},
		{
			name:   "symlink escaping via dot-dot",
			member: Member{Path: "agents/link.md", TypeFlag: tar.TypeSymlink, LinkTarget: "../../etc/passwd"},
			want:   false,
		},
		{
			name:   "symlink with absolute target",
			member: Member{Path: "link", TypeFlag: tar.TypeSymlink, LinkTarget: "/etc/passwd"},
			want:   false,
		},
		{
			name:   "symlink with empty target",
			member: Member{Path: "link", TypeFlag: tar.TypeSymlink, LinkTarget: ""},
			want:   false,
		},
		{
			name:   "hard link to sibling",
			member: Member{Path: "agents/copy.md", TypeFlag: tar.TypeLink, LinkTarget: "reviewer.md"},
			want:   true,
		},
		{
			name:   "hard link escaping",
			member: Member{Path: "copy.md", TypeFlag: tar.TypeLink, LinkTarget: "../outside.md"},
			want:   false,
		},
		{
			name:   "unsafe member path",
			member: Member{Path: "../evil.md", TypeFlag: tar.TypeReg},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsMemberSafe(tt.member, "/backups/dest"))
		})
	}
}

func TestSafeMembersFiltersHostileEntries(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "hostile.tar.gz")
	writeArchive(t, archivePath, func(tw *tar.Writer) {
		addFile(t, tw, "good.txt", "good")
		addFile(t, tw, "../evil.txt", "evil")
		addFile(t, tw, "/abs.txt", "abs")
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "escape-link",
			Typeflag: tar.TypeSymlink,
			Linkname: "../../outside",
		}))
	})

	destRoot := t.TempDir()
	safe, err := SafeMembers(archivePath, destRoot)
	require.NoError(t, err)
	require.Len(t, safe, 1)
	assert.Equal(t, "good.txt", safe[0].Path)
}

func TestUnpackSecurelySkipsUnsafeMembers(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "hostile.tar.gz")
	writeArchive(t, archivePath, func(tw *tar.Writer) {
		addFile(t, tw, "good.txt", "good content")
		addFile(t, tw, "../evil.txt", "escape attempt")
		addFile(t, tw, "nested/inner.txt", "inner")
	})

	parent := t.TempDir()
	destRoot := filepath.Join(parent, "dest")
	require.NoError(t, os.Mkdir(destRoot, 0o755))

	extracted, err := UnpackSecurely(archivePath, destRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{"good.txt", "nested/inner.txt"}, extracted)

	data, err := os.ReadFile(filepath.Join(destRoot, "good.txt"))
	require.NoError(t, err)
	assert.Equal(t, "good content", string(data))

	_, err = os.Stat(filepath.Join(parent, "evil.txt"))
	assert.True(t, os.IsNotExist(err), "escaping member must not be written")
}

func TestUnpackSecurelyMaterializesSymlinks(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "links.tar.gz")
	writeArchive(t, archivePath, func(tw *tar.Writer) {
		addFile(t, tw, "real.txt", "payload")
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "link.txt",
			Typeflag: tar.TypeSymlink,
			Linkname: "real.txt",
		}))
	})

	destRoot := t.TempDir()
	extracted, err := UnpackSecurely(archivePath, destRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt", "link.txt"}, extracted)

	target, err := os.Readlink(filepath.Join(destRoot, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "real.txt", target)
}

func TestUnpackSecurelyMaterializesHardLinks(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "hardlinks.tar.gz")
	writeArchive(t, archivePath, func(tw *tar.Writer) {
		addFile(t, tw, "dir/real.txt", "payload")
		// Link target is interpreted relative to the link's own directory.
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "dir/copy.txt",
			Typeflag: tar.TypeLink,
			Linkname: "real.txt",
		}))
	})

	destRoot := t.TempDir()
	extracted, err := UnpackSecurely(archivePath, destRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/real.txt", "dir/copy.txt"}, extracted)

	data, err := os.ReadFile(filepath.Join(destRoot, "dir", "copy.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	realInfo, err := os.Stat(filepath.Join(destRoot, "dir", "real.txt"))
	require.NoError(t, err)
	copyInfo, err := os.Stat(filepath.Join(destRoot, "dir", "copy.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(realInfo, copyInfo))
}

func TestUnpackMembersSecurely(t *testing.T) {
	t.Parallel()

	t.Run("extracts only requested members", func(t *testing.T) {
		t.Parallel()

		archivePath := filepath.Join(t.TempDir(), "subset.tar.gz")
		writeArchive(t, archivePath, func(tw *tar.Writer) {
			addFile(t, tw, "agents/reviewer.md", "review")
			addFile(t, tw, "skills/debug.md", "debug")
		})

		destRoot := t.TempDir()
		extracted, err := UnpackMembersSecurely(archivePath, destRoot, []string{"agents/reviewer.md"})
		require.NoError(t, err)
		assert.Equal(t, []string{"agents/reviewer.md"}, extracted)

		_, err = os.Stat(filepath.Join(destRoot, "skills", "debug.md"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("aborts on the first unsafe requested member", func(t *testing.T) {
		t.Parallel()

		archivePath := filepath.Join(t.TempDir(), "hostile.tar.gz")
		writeArchive(t, archivePath, func(tw *tar.Writer) {
			addFile(t, tw, "first.txt", "first")
			addFile(t, tw, "../evil.txt", "escape")
			addFile(t, tw, "last.txt", "last")
		})

		destRoot := t.TempDir()
		extracted, err := UnpackMembersSecurely(archivePath, destRoot,
			[]string{"first.txt", "../evil.txt", "last.txt"})
		require.ErrorIs(t, err, ErrSecurityViolation)

		// Members before the violation stay on disk; nothing after it is
		// extracted and no rollback happens.
		assert.Equal(t, []string{"first.txt"}, extracted)
		_, statErr := os.Stat(filepath.Join(destRoot, "first.txt"))
		assert.NoError(t, statErr)
		_, statErr = os.Stat(filepath.Join(destRoot, "last.txt"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("unrequested unsafe members are ignored", func(t *testing.T) {
		t.Parallel()

		archivePath := filepath.Join(t.TempDir(), "mixed.tar.gz")
		writeArchive(t, archivePath, func(tw *tar.Writer) {
			addFile(t, tw, "../evil.txt", "escape")
			addFile(t, tw, "wanted.txt", "ok")
		})

		destRoot := t.TempDir()
		extracted, err := UnpackMembersSecurely(archivePath, destRoot, []string{"wanted.txt"})
		require.NoError(t, err)
		assert.Equal(t, []string{"wanted.txt"}, extracted)
	})
}
