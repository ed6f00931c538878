// Package archive packs and unpacks workspace tar.gz archives.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrTooLarge is returned when the packed archive exceeds the byte cap.
var ErrTooLarge = errors.New("workspace archive exceeds size limit")

// DefaultIgnore is always excluded from workspace archives.
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	"**/.DS_Store",
}

// Pack archives the tree rooted at root into a gzipped tarball,
// skipping paths matching any ignore glob. maxBytes caps the compressed
// output; 0 means no cap.
func Pack(root string, ignore []string, maxBytes int64) ([]byte, error) {
	patterns := append(append([]string{}, DefaultIgnore...), ignore...)

	var buf bytes.Buffer
	var w io.Writer = &buf
	if maxBytes > 0 {
		w = &cappedWriter{w: &buf, remaining: maxBytes}
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignored(rel, d.IsDir(), patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Symlinks and other irregular files are not carried over.
		if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pack workspace: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("pack workspace: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("pack workspace: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack extracts a gzipped tarball into dest, rejecting entries that
// would escape it.
func Unpack(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unpack workspace: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unpack workspace: %w", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("unpack workspace: illegal path %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("unpack workspace: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("unpack workspace: %w", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("unpack workspace: %w", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("unpack workspace: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("unpack workspace: %w", err)
			}
		}
	}
}

func ignored(rel string, isDir bool, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// A pattern like ".git/**" should also skip the directory itself.
		if isDir {
			if base, found := strings.CutSuffix(p, "/**"); found {
				if ok, _ := doublestar.Match(base, rel); ok {
					return true
				}
			}
		}
	}
	return false
}

// cappedWriter fails with ErrTooLarge once more than remaining bytes
// have been written.
type cappedWriter struct {
	w         io.Writer
	remaining int64
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > c.remaining {
		return 0, ErrTooLarge
	}
	n, err := c.w.Write(p)
	c.remaining -= int64(n)
	return n, err
}
