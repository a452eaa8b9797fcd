package disk

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// writeFileAtomic writes data to dir/name through a temp file and rename.
func writeFileAtomic(root *os.Root, dir, name, pattern string, data []byte) error {
	tmp, tmpPath, err := createTemp(root, dir, pattern)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpPath)
		return err
	}
	if err := root.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		_ = root.Remove(tmpPath)
		return err
	}
	return nil
}

// createTemp creates a uniquely named file in dir inside root.
func createTemp(root *os.Root, dir, pattern string) (*os.File, string, error) {
	if pattern == "" {
		pattern = "tmp"
	}
	if !strings.Contains(pattern, "*") {
		pattern += "*"
	}
	if dir == "" {
		dir = "."
	}

	for tries := 0; tries < 10000; tries++ {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		path := filepath.Join(dir, name)
		f, err := root.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}

	return nil, "", errors.New("failed to create temp file")
}
