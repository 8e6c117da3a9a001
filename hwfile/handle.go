// Package hwfile opens hardware control files with an exclusive advisory lock,
// so that only one instance of the control program can drive a pin at a time.
package hwfile

import (
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mhp/gantryio/hwerr"
)

// Handle is an open file that this process holds an exclusive lock on.
// Closing it drops the lock.
type Handle interface {
	io.ReadWriteSeeker
	io.Closer
	Fd() uintptr
	Name() string
}

// Provider hands out Handles. The OS provider talks to the real filesystem,
// fakeio provides an in-memory one.
type Provider interface {
	Acquire(path string, flag int) (Handle, error)
	Exists(path string) bool
}

// OS acquires handles on the host filesystem.
type OS struct{}

// Acquire opens path and takes a non-blocking exclusive flock on it. The file
// is closed again if the lock cannot be had.
func (OS) Acquire(path string, flag int) (Handle, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, hwerr.Path(hwerr.ErrOpen, "open", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, hwerr.Path(hwerr.ErrLock, "lock", path, err)
	}
	return f, nil
}

// Exists reports whether path is present and this process may read and
// write it. Freshly exported sysfs files are root-only until udev has run.
func (OS) Exists(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}

// Acquire is shorthand for OS{}.Acquire.
func Acquire(path string, flag int) (Handle, error) {
	return OS{}.Acquire(path, flag)
}

// WriteString writes s in a single write, as sysfs attributes expect.
func WriteString(h Handle, s string) error {
	n, err := h.Write([]byte(s))
	if err != nil {
		return hwerr.Path(hwerr.ErrIO, "write", h.Name(), err)
	}
	if n != len(s) {
		return hwerr.Path(hwerr.ErrIO, "write", h.Name(), io.ErrShortWrite)
	}
	return nil
}

// WriteInt writes the decimal form of v.
func WriteInt(h Handle, v uint64) error {
	return WriteString(h, strconv.FormatUint(v, 10))
}

// ReadString rewinds h and reads at most n bytes. Sysfs attributes have to be
// re-read from offset zero to get a fresh value.
func ReadString(h Handle, n int) (string, error) {
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		return "", hwerr.Path(hwerr.ErrIO, "seek", h.Name(), err)
	}
	buf := make([]byte, n)
	got, err := h.Read(buf)
	if err != nil && !(err == io.EOF && got > 0) {
		return "", hwerr.Path(hwerr.ErrIO, "read", h.Name(), err)
	}
	return strings.TrimSpace(string(buf[:got])), nil
}

// WriteFile acquires path write-only, writes s and closes it again.
func WriteFile(p Provider, path, s string) error {
	h, err := p.Acquire(path, os.O_WRONLY)
	if err != nil {
		return err
	}
	werr := WriteString(h, s)
	if cerr := h.Close(); werr == nil && cerr != nil {
		werr = hwerr.Path(hwerr.ErrIO, "close", path, cerr)
	}
	return werr
}
