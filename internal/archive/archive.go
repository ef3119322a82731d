package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
)

var (
	// ErrCorrupt indicates the file is not a well-formed gzip tar archive.
	ErrCorrupt = errors.New("archive is invalid or corrupted")

	// ErrEmpty indicates a well-formed archive containing zero members.
	ErrEmpty = errors.New("archive is empty")
)

// Member describes a single archive entry.
type Member struct {
	// Path is the slash-separated member path as stored in the archive.
	Path string

	// Size is the member size in bytes, zero for non-regular members.
	Size int64

	// Mode is the member's permission bits.
	Mode fs.FileMode

	// TypeFlag is the raw tar type flag.
	TypeFlag byte

	// LinkTarget is the link target for symbolic and hard links.
	LinkTarget string
}

// IsRegular reports whether the member is a regular file.
func (m Member) IsRegular() bool { return m.TypeFlag == tar.TypeReg }

// IsDir reports whether the member is a directory.
func (m Member) IsDir() bool { return m.TypeFlag == tar.TypeDir }

// IsLink reports whether the member is a symbolic or hard link.
func (m Member) IsLink() bool {
	return m.TypeFlag == tar.TypeSymlink || m.TypeFlag == tar.TypeLink
}

func memberFromHeader(hdr *tar.Header) Member {
	return Member{
		Path:       hdr.Name,
		Size:       hdr.Size,
		Mode:       hdr.FileInfo().Mode().Perm(),
		TypeFlag:   hdr.Typeflag,
		LinkTarget: hdr.Linkname,
	}
}

// Create writes a gzip-compressed tar archive of sourceDir to archivePath.
// All members are placed under a single top-level directory named topLevel.
// On failure the partially written archive is removed.
func Create(archivePath, sourceDir, topLevel string) (retErr error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = out.Close()
			_ = os.Remove(archivePath)
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	if err := addTree(tw, sourceDir, topLevel); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize compression: %w", err)
	}
	return out.Close()
}

func addTree(tw *tar.Writer, sourceDir, topLevel string) error {
	return filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = path.Join(topLevel, filepath.ToSlash(rel))
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// walk opens the archive and invokes fn for every member in archive order.
// The tar reader passed to fn is positioned at the member's content.
func walk(archivePath string, fn func(*tar.Header, *tar.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// List returns all members of the archive in archive order.
func List(archivePath string) ([]Member, error) {
	var members []Member
	err := walk(archivePath, func(hdr *tar.Header, _ *tar.Reader) error {
		members = append(members, memberFromHeader(hdr))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// CountFiles returns the number of regular file members in the archive.
func CountFiles(archivePath string) (int, error) {
	count := 0
	err := walk(archivePath, func(hdr *tar.Header, _ *tar.Reader) error {
		if hdr.Typeflag == tar.TypeReg {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Validate checks that archivePath is a readable, well-formed, non-empty
// archive. It returns ErrCorrupt for malformed content, ErrEmpty for an
// archive with zero members, and the underlying error when the file cannot
// be opened.
func Validate(archivePath string) error {
	members := 0
	err := walk(archivePath, func(*tar.Header, *tar.Reader) error {
		members++
		return nil
	})
	if err != nil {
		return err
	}
	if members == 0 {
		return ErrEmpty
	}
	return nil
}

// Checksum computes the content digest of the archive bytes.
func Checksum(archivePath string) (digest.Digest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}

// TopLevelDir returns the shared top-level directory of the archive, or the
// empty string when members do not all live under a single directory.
func TopLevelDir(members []Member) string {
	top := ""
	nested := false
	for _, m := range members {
		clean := path.Clean(m.Path)
		if clean == "." || clean == "/" {
			continue
		}
		first := clean
		if i := strings.Index(clean, "/"); i >= 0 {
			first = clean[:i]
			nested = true
		} else if m.IsDir() {
			nested = true
		}
		if top == "" {
			top = first
		} else if top != first {
			return ""
		}
	}
	if !nested {
		return ""
	}
	return top
}
