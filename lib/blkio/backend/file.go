package backend

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/pcache/lib/blkio"
)

// File is a device backed by a regular file. Reads past the end of the file
// return zeros, writes extend the file.
//
// Thread-safety: Access is thread-safe (pread/pwrite).
type File struct {
	blkio.Base
	f    *os.File
	size int64
}

// OpenFile opens or creates the file at path as a device of size bytes (0 = blkio.MaxFileSize)
func OpenFile(path string, size int64, nodeID int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open device file: %w", err)
	}
	if size <= 0 {
		size = blkio.MaxFileSize
	}
	dev := &File{
		Base: blkio.NewBase(nodeID),
		f:    f,
		size: size,
	}
	blkio.Register(dev)
	return dev, nil
}

// Name returns the path of the file
func (d *File) Name() string { return d.f.Name() }

// Size returns the size of the device
func (d *File) Size() int64 { return d.size }

// Access reads or writes len(buf) bytes at off
func (d *File) Access(buf []byte, off int64, method blkio.Method) (int, error) {
	if err := checkRange(off, len(buf), d.size); err != nil {
		return 0, err
	}

	switch method {
	case blkio.Read:
		n, err := d.f.ReadAt(buf, off)
		if errors.Is(err, io.EOF) {
			clear(buf[n:])
			return len(buf), nil
		}
		if err != nil {
			return n, blkio.NewError(blkio.RetCInternalError, err.Error())
		}
		return n, nil
	case blkio.Write:
		n, err := d.f.WriteAt(buf, off)
		if err != nil {
			return n, blkio.NewError(blkio.RetCInternalError, err.Error())
		}
		return n, nil
	default:
		return 0, blkio.NewError(blkio.RetCInvalidOperation, fmt.Sprintf("unknown method %d", method))
	}
}

// Sync commits the file contents to stable storage
func (d *File) Sync() error {
	return d.f.Sync()
}

// Cleanup unregisters the device and closes the file
func (d *File) Cleanup() error {
	blkio.Unregister(d)
	if err := d.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close device file: %w", err)
	}
	return nil
}
