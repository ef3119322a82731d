package gitsync

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Strategy selects how remote content is reconciled with local content.
type Strategy string

const (
	// StrategyReplace wipes each eligible local directory and copies the
	// remote subtree in wholesale.
	StrategyReplace Strategy = "replace"

	// StrategyMerge copies new remote files in and, where local and remote
	// content diverge, keeps the local file and writes the remote content
	// to a sibling file with the RemoteSuffix.
	StrategyMerge Strategy = "merge"

	// StrategyKeepLocal copies new remote files in and never touches
	// existing local files.
	StrategyKeepLocal Strategy = "keep-local"

	// StrategyKeepRemote overwrites local files with remote content
	// unconditionally.
	StrategyKeepRemote Strategy = "keep-remote"
)

// RemoteSuffix is appended to the sibling copy written by StrategyMerge
// when local and remote content diverge.
const RemoteSuffix = ".remote"

// ParseStrategy converts a user-supplied string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	switch Strategy(normalized) {
	case StrategyReplace, StrategyMerge, StrategyKeepLocal, StrategyKeepRemote:
		return Strategy(normalized), nil
	}
	return "", fmt.Errorf("unknown merge strategy %q (want replace, merge, keep-local or keep-remote)", s)
}

// counters tracks per-operation file counts.
type counters struct {
	added    int
	modified int
	deleted  int
}

func (c *counters) add(other counters) {
	c.added += other.added
	c.modified += other.modified
	c.deleted += other.deleted
}

// applyDir reconciles one eligible directory. A directory absent from the
// remote is left untouched.
func applyDir(strategy Strategy, remoteDir, localDir string) (counters, error) {
	if _, err := os.Stat(remoteDir); err != nil {
		if os.IsNotExist(err) {
			return counters{}, nil
		}
		return counters{}, err
	}
	if strategy == StrategyReplace {
		return replaceDir(remoteDir, localDir)
	}

	var c counters
	err := filepath.WalkDir(remoteDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(remoteDir, p)
		if err != nil {
			return err
		}
		fileCounters, err := applyFile(strategy, p, filepath.Join(localDir, rel))
		if err != nil {
			return err
		}
		c.add(fileCounters)
		return nil
	})
	return c, err
}

// replaceDir implements StrategyReplace for a directory: the deleted count
// is the number of files that existed locally before the wipe, including
// ones the subsequent copy recreates identically.
func replaceDir(remoteDir, localDir string) (counters, error) {
	var c counters
	c.deleted = countFiles(localDir)
	if err := os.RemoveAll(localDir); err != nil {
		return c, err
	}
	added, err := copyTree(remoteDir, localDir)
	c.added = added
	return c, err
}

// applyFile reconciles one file. For individual files StrategyReplace
// degenerates to StrategyKeepRemote, there being no subtree to wipe.
func applyFile(strategy Strategy, remotePath, localPath string) (counters, error) {
	remote, err := os.ReadFile(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return counters{}, nil
		}
		return counters{}, err
	}

	local, err := os.ReadFile(localPath)
	switch {
	case os.IsNotExist(err):
		if err := writeFile(localPath, remote); err != nil {
			return counters{}, err
		}
		return counters{added: 1}, nil
	case err != nil:
		return counters{}, err
	}

	if bytes.Equal(local, remote) {
		if strategy == StrategyKeepRemote || strategy == StrategyReplace {
			if err := writeFile(localPath, remote); err != nil {
				return counters{}, err
			}
			return counters{modified: 1}, nil
		}
		return counters{}, nil
	}

	switch strategy {
	case StrategyKeepRemote, StrategyReplace:
		if err := writeFile(localPath, remote); err != nil {
			return counters{}, err
		}
		return counters{modified: 1}, nil
	case StrategyMerge:
		if err := writeFile(localPath+RemoteSuffix, remote); err != nil {
			return counters{}, err
		}
		return counters{modified: 1}, nil
	default: // StrategyKeepLocal
		return counters{}, nil
	}
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

// countFiles counts regular files under dir, zero when dir is missing.
func countFiles(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})
	return count
}

// copyTree copies every file under srcDir to dstDir, returning the number
// of files copied.
func copyTree(srcDir, dstDir string) (int, error) {
	copied := 0
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dstDir, rel), data); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}
