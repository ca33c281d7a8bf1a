//go:build linux

package diskio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Handle is an open raw block device (or, in tests, a regular file
// standing in for one).
type Handle struct {
	path  string
	f     *os.File
	size  uint64
	flags OpenFlags
}

// Open opens path under the given flags. Direct is mandatory for
// superblock I/O; Excl maps to O_EXCL-equivalent advisory locking via
// flock, since block devices don't honor O_EXCL the way regular files
// do.
func Open(path string, flags OpenFlags) (*Handle, error) {
	osFlags := 0
	switch {
	case flags&Read != 0 && flags&Write != 0:
		osFlags = os.O_RDWR
	case flags&Write != 0:
		osFlags = os.O_WRONLY
	default:
		osFlags = os.O_RDONLY
	}
	if flags&Direct != 0 {
		osFlags |= unix.O_DIRECT
	}

	f, err := os.OpenFile(path, osFlags, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, &IoError{Op: "open", Path: path, Err: err}
		}
		return nil, &IoError{Op: "open", Path: path, Err: err}
	}

	if flags&Excl != 0 {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if err == unix.EWOULDBLOCK {
				return nil, ErrInUse
			}
			return nil, &IoError{Op: "flock", Path: path, Err: err}
		}
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, &IoError{Op: "size", Path: path, Err: err}
	}

	return &Handle{path: path, f: f, size: size, flags: flags}, nil
}

func deviceSize(f *os.File) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, err
	}

	if st.Mode&unix.S_IFMT == unix.S_IFREG {
		return uint64(st.Size), nil
	}

	var sz uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafePointerOf(&sz)))
	if errno != 0 {
		return 0, errno
	}
	return sz, nil
}

// Size returns the device size in bytes, as reported at Open time.
func (h *Handle) Size() uint64 { return h.size }

// Path returns the path the handle was opened with. It is never used
// as rdev identity: only the on-disk UUID is.
func (h *Handle) Path() string { return h.path }

// ReadAt reads len(buf) bytes at offset into buf. buf must be aligned to
// AlignSize and its length a multiple of MinSectorSize when the handle
// was opened Direct.
func (h *Handle) ReadAt(buf []byte, offset int64) error {
	if h.flags&Direct != 0 && (alignmentOf(buf) != 0 || len(buf)%MinSectorSize != 0) {
		return ErrMisaligned
	}

	n, err := h.f.ReadAt(buf, offset)
	if err != nil {
		return &IoError{Op: "read", Path: h.path, Err: err}
	}
	if n != len(buf) {
		return &IoError{Op: "read", Path: h.path, Err: fmt.Errorf("short read: %d/%d", n, len(buf))}
	}
	return nil
}

// WriteAt writes buf at offset. Same alignment rules as ReadAt.
func (h *Handle) WriteAt(buf []byte, offset int64) error {
	if h.flags&Direct != 0 && (alignmentOf(buf) != 0 || len(buf)%MinSectorSize != 0) {
		return ErrMisaligned
	}

	n, err := h.f.WriteAt(buf, offset)
	if err != nil {
		return &IoError{Op: "write", Path: h.path, Err: err}
	}
	if n != len(buf) {
		return &IoError{Op: "write", Path: h.path, Err: fmt.Errorf("short write: %d/%d", n, len(buf))}
	}
	return nil
}

// Sync flushes any buffered writes to stable storage.
func (h *Handle) Sync() error {
	if err := h.f.Sync(); err != nil {
		return &IoError{Op: "fsync", Path: h.path, Err: err}
	}
	return nil
}

// Close releases the handle, unlocking it if it was opened Excl.
func (h *Handle) Close() error {
	return h.f.Close()
}
