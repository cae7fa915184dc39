// Package mount locates the kernel-object filesystem and resolves the
// managed sub-directory this library pins state under (spec §4.1,
// component A).
package mount

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-xdp/logging"
)

// logger is this package's component logger, configurable via the
// XDP_LOG environment variable.
var logger = func() *slog.Logger {
	l, err := logging.FromEnv()
	if err != nil {
		l = slog.Default()
	}
	return l.With("component", "mount")
}()

// EnvVar overrides the search path for the kernel-object filesystem
// mount point, matching spec.md §6.
const EnvVar = "XDP_BPFFS"

// defaultMountPoint is the compile-time fallback search path.
const defaultMountPoint = "/sys/fs/bpf"

// bpfFSMagic is BPF_FS_MAGIC, the well-known statfs f_type value for the
// kernel-object filesystem.
const bpfFSMagic = 0xcafe4a11

var (
	rootOnce sync.Once
	rootPath string
	rootErr  error

	managedOnce sync.Once
	managedPath string
	managedErr  error
)

// Root identifies a validated kernel-object filesystem mount point.
type Root string

func (r Root) String() string { return string(r) }

// isValidMountpoint reports whether path is mounted and its filesystem
// type matches the kernel-object filesystem magic value, mirroring the
// original's bpf_is_valid_mntpt.
func isValidMountpoint(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return uint32(st.Type) == bpfFSMagic
}

// FindRoot returns the mount point of the kernel-object filesystem.
// The single candidate is the XDP_BPFFS environment variable when set,
// otherwise the compile-time default; a set but invalid XDP_BPFFS does
// not fall back to the default. The result is memoized for the process
// lifetime (first-writer-wins; safe for concurrent callers per spec.md
// §9). Fails with an error if the candidate does not validate; the xdp
// package reports that as KindNotFound.
func FindRoot() (Root, error) {
	rootOnce.Do(func() {
		candidate := os.Getenv(EnvVar)
		if candidate == "" {
			candidate = defaultMountPoint
		}
		if !isValidMountpoint(candidate) {
			rootErr = fmt.Errorf("mount: no bpf filesystem found at %s", candidate)
			return
		}
		rootPath = candidate
		logger.Debug("resolved bpf filesystem root", "path", rootPath)
	})
	if rootErr != nil {
		return "", rootErr
	}
	return Root(rootPath), nil
}

// ManagedDir returns "<root>/xdp", creating it with owner-only RWX
// permissions if absent. Idempotent and memoized.
func ManagedDir() (string, error) {
	managedOnce.Do(func() {
		root, err := FindRoot()
		if err != nil {
			managedErr = err
			return
		}
		dir := root.String() + "/xdp"
		if err := os.Mkdir(dir, 0700); err != nil && !os.IsExist(err) {
			managedErr = fmt.Errorf("mount: create managed directory %s: %w", dir, err)
			return
		}
		managedPath = dir
		logger.Debug("resolved managed directory", "path", managedPath)
	})
	if managedErr != nil {
		return "", managedErr
	}
	return managedPath, nil
}

// resetForTest clears the memoized singletons so tests can exercise
// FindRoot/ManagedDir against a fresh environment. Unexported: only this
// package's own tests may call it.
func resetForTest() {
	rootOnce = sync.Once{}
	rootPath, rootErr = "", nil
	managedOnce = sync.Once{}
	managedPath, managedErr = "", nil
}
