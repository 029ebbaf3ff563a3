package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// copyResult describes one completed file copy.
type copyResult struct {
	Bytes    int64
	Checksum string // sha256 of the bytes read from the source
}

// copyFile copies src to dst and fsyncs dst. With exclusive set, an existing
// dst is an error; otherwise it is truncated. A partial dst is removed.
func copyFile(src, dst string, exclusive bool) (copyResult, error) {
	in, err := os.Open(src)
	if err != nil {
		return copyResult{}, classifyIOError("open source", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return copyResult{}, classifyIOError("create directory", filepath.Dir(dst), err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	out, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		return copyResult{}, classifyIOError("create", dst, err)
	}

	h := sha256.New()
	n, err := io.Copy(out, io.TeeReader(in, h))
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return copyResult{}, classifyIOError("copy to", dst, err)
	}
	return copyResult{Bytes: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// checksumFile returns the sha256 hex digest of path.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", classifyIOError("open", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", classifyIOError("read", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// detectMime sniffs the content type of path.
func detectMime(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// absPath makes path absolute, falling back to the cleaned path.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// copyDir copies the regular files of src (recursively) into dst.
func copyDir(src, dst string) ([]string, error) {
	var copied []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := copyFile(path, target, false); err != nil {
			return err
		}
		copied = append(copied, target)
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("copy directory %s: %w", src, err)
	}
	return copied, nil
}

// removeFile deletes path, treating a missing file as success.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyIOError("remove", path, err)
	}
	return nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
