package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrSecurityViolation indicates that an explicitly requested member failed
// the containment check during strict extraction.
var ErrSecurityViolation = errors.New("archive member escapes extraction root")

// IsPathSafe reports whether entryPath may be materialized under destRoot.
// Absolute paths, paths containing null bytes and paths whose normalized
// resolution leaves destRoot are rejected. An empty or "." path resolves to
// destRoot itself and is safe.
func IsPathSafe(entryPath, destRoot string) bool {
	if strings.ContainsRune(entryPath, 0) {
		return false
	}
	clean := path.Clean(filepath.ToSlash(entryPath))
	if clean == "." || clean == "" {
		return true
	}
	if path.IsAbs(clean) || filepath.IsAbs(filepath.FromSlash(entryPath)) {
		return false
	}
	return within(destRoot, filepath.Join(destRoot, filepath.FromSlash(clean)))
}

// IsMemberSafe reports whether the member may be materialized under
// destRoot. Regular files and directories are checked via IsPathSafe. For
// symbolic and hard links the link target must be relative, must not
// contain a ".." segment, and must resolve to a location under destRoot
// when interpreted relative to the link's own directory.
func IsMemberSafe(m Member, destRoot string) bool {
	if !IsPathSafe(m.Path, destRoot) {
		return false
	}
	if !m.IsLink() {
		return true
	}

	target := m.LinkTarget
	if target == "" || strings.ContainsRune(target, 0) {
		return false
	}
	slashTarget := filepath.ToSlash(target)
	if path.IsAbs(slashTarget) || filepath.IsAbs(target) {
		return false
	}
	for _, seg := range strings.Split(slashTarget, "/") {
		if seg == ".." {
			return false
		}
	}
	linkDir := filepath.Dir(filepath.FromSlash(path.Clean(filepath.ToSlash(m.Path))))
	resolved := filepath.Join(destRoot, linkDir, filepath.FromSlash(slashTarget))
	return within(destRoot, resolved)
}

// within reports whether p is root itself or a descendant of root after
// lexical normalization.
func within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SafeMembers filters the archive's member list in a single pass, returning
// only the members that pass IsMemberSafe for destRoot.
func SafeMembers(archivePath, destRoot string) ([]Member, error) {
	var safe []Member
	err := walk(archivePath, func(hdr *tar.Header, _ *tar.Reader) error {
		if m := memberFromHeader(hdr); IsMemberSafe(m, destRoot) {
			safe = append(safe, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return safe, nil
}

// UnpackSecurely extracts every safe member of the archive under destRoot
// in archive order. Unsafe members are skipped without error. It returns
// the relative paths actually materialized, in extraction order.
func UnpackSecurely(archivePath, destRoot string) ([]string, error) {
	var extracted []string
	err := walk(archivePath, func(hdr *tar.Header, tr *tar.Reader) error {
		m := memberFromHeader(hdr)
		if !IsMemberSafe(m, destRoot) {
			slog.Debug("skipping unsafe archive member", "member", m.Path)
			return nil
		}
		written, err := materialize(m, tr, destRoot)
		if err != nil {
			return err
		}
		if written {
			extracted = append(extracted, path.Clean(filepath.ToSlash(m.Path)))
		}
		return nil
	})
	return extracted, err
}

// UnpackMembersSecurely extracts exactly the named members under destRoot.
// The first unsafe member aborts extraction with ErrSecurityViolation;
// members already extracted remain on disk. Member names are matched
// against cleaned slash-separated archive paths.
func UnpackMembersSecurely(archivePath, destRoot string, members []string) ([]string, error) {
	want := make(map[string]struct{}, len(members))
	for _, m := range members {
		want[path.Clean(filepath.ToSlash(m))] = struct{}{}
	}

	var extracted []string
	err := walk(archivePath, func(hdr *tar.Header, tr *tar.Reader) error {
		m := memberFromHeader(hdr)
		key := path.Clean(filepath.ToSlash(m.Path))
		if _, ok := want[key]; !ok {
			return nil
		}
		if !IsMemberSafe(m, destRoot) {
			return fmt.Errorf("%w: %s", ErrSecurityViolation, m.Path)
		}
		written, err := materialize(m, tr, destRoot)
		if err != nil {
			return err
		}
		if written {
			extracted = append(extracted, key)
		}
		return nil
	})
	return extracted, err
}

// materialize writes a single member to disk. It reports whether anything
// was written; unsupported member types are ignored.
func materialize(m Member, r io.Reader, destRoot string) (bool, error) {
	target := filepath.Join(destRoot, filepath.FromSlash(path.Clean(filepath.ToSlash(m.Path))))

	switch m.TypeFlag {
	case tar.TypeDir:
		return true, os.MkdirAll(target, dirPerm(m.Mode))

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return false, err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm(m.Mode))
		if err != nil {
			return false, err
		}
		if _, err := io.Copy(f, r); err != nil {
			_ = f.Close()
			return false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return true, f.Close()

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return false, err
		}
		_ = os.Remove(target)
		return true, os.Symlink(filepath.FromSlash(m.LinkTarget), target)

	case tar.TypeLink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return false, err
		}
		source := filepath.Join(filepath.Dir(target), filepath.FromSlash(m.LinkTarget))
		_ = os.Remove(target)
		return true, os.Link(source, target)

	default:
		slog.Debug("ignoring unsupported archive member type", "member", m.Path, "type", m.TypeFlag)
		return false, nil
	}
}

func filePerm(mode fs.FileMode) fs.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm
	}
	return 0o644
}

func dirPerm(mode fs.FileMode) fs.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm
	}
	return 0o755
}
