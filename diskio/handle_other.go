//go:build !linux

package diskio

import "errors"

// Handle is a stub on non-Linux platforms: the virtualizer's direct I/O
// path is Linux-only.
type Handle struct{}

var errUnsupported = errors.New("diskio: direct block I/O is only supported on linux")

func Open(path string, flags OpenFlags) (*Handle, error) { return nil, errUnsupported }
func (h *Handle) Size() uint64                            { return 0 }
func (h *Handle) Path() string                            { return "" }
func (h *Handle) ReadAt(buf []byte, offset int64) error   { return errUnsupported }
func (h *Handle) WriteAt(buf []byte, offset int64) error  { return errUnsupported }
func (h *Handle) Sync() error                             { return errUnsupported }
func (h *Handle) Close() error                             { return nil }
