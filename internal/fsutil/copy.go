// Package fsutil provides file copy helpers shared by the backup and session packages.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// CopyMode selects how CopyFile treats an existing destination.
type CopyMode int

const (
	// Overwrite truncates an existing destination.
	Overwrite CopyMode = iota
	// Exclusive fails with an fs.ErrExist error if the destination exists.
	Exclusive
)

// CopyResult describes the bytes written by CopyFile.
type CopyResult struct {
	Size     int64
	Checksum string // xxh3-64, hex
}

// CopyFile copies the regular file src to dst, preserving src's permission bits.
// The returned checksum covers the bytes written to dst.
func CopyFile(src, dst string, mode CopyMode) (CopyResult, error) {
	cleanSrc := filepath.Clean(src)

	info, err := os.Stat(cleanSrc)
	if err != nil {
		return CopyResult{}, err
	}
	if !info.Mode().IsRegular() {
		return CopyResult{}, fmt.Errorf("source %q is not a regular file", src)
	}

	srcFile, err := os.Open(cleanSrc)
	if err != nil {
		return CopyResult{}, err
	}
	defer srcFile.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if mode == Exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	// #nosec G304 - dst is derived from caller-controlled module paths.
	dstFile, err := os.OpenFile(dst, flags, info.Mode().Perm())
	if err != nil {
		return CopyResult{}, err
	}

	h := xxh3.New()
	n, err := io.Copy(io.MultiWriter(dstFile, h), srcFile)
	if err != nil {
		dstFile.Close()
		return CopyResult{}, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := dstFile.Close(); err != nil {
		return CopyResult{}, fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return CopyResult{Size: n, Checksum: formatSum(h.Sum64())}, nil
}

// Checksum returns the xxh3-64 checksum of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return formatSum(h.Sum64()), nil
}

func formatSum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
