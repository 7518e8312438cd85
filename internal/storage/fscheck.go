package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is wrapped by the error OpenSQLite returns when the
// state database would live on a network mount. SQLite's locking is not
// reliable there and the job queue depends on it.
var ErrNetworkFilesystem = errors.New("state database is on a network filesystem")

// FilesystemError names the mount that was rejected.
type FilesystemError struct {
	Path   string
	FSType string
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("state.path %q is on %s: SQLite needs a local disk, point state.path at one", e.Path, e.FSType)
}

func (e *FilesystemError) Unwrap() error { return ErrNetworkFilesystem }

// fsDetector reports the filesystem type of an existing path. An empty type
// means the platform cannot tell.
type fsDetector func(path string) (string, error)

var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

func checkLocalFilesystem(path string) error {
	return checkFilesystem(path, detectFilesystemType)
}

func checkFilesystem(path string, detect fsDetector) error {
	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve state.path %q: %w", path, err)
	}
	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("inspect filesystem of %q: %w", dir, err)
	}
	if networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return &FilesystemError{Path: path, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path to the first entry that exists, so a
// database that has not been created yet is judged by its parent mount.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor")
		}
		p = parent
	}
}
