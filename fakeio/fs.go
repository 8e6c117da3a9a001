// Package fakeio is an in-memory stand-in for the sysfs control files and the
// i2c converter, used for development without hardware and in tests.
package fakeio

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mhp/gantryio/hwerr"
	"github.com/mhp/gantryio/hwfile"
)

// Write is one recorded write to a fake file.
type Write struct {
	Path string
	Data string
}

// FS implements hwfile.Provider. Every write replaces the file contents, as
// writes to a sysfs attribute do.
type FS struct {
	mu       sync.Mutex
	files    map[string][]byte
	locked   map[string]bool
	hooks    map[string]func(data string)
	failures map[string]error
	pending  map[string]int
	later    map[string][]byte
	log      []Write
}

// New returns an empty filesystem.
func New() *FS {
	return &FS{
		files:    map[string][]byte{},
		locked:   map[string]bool{},
		hooks:    map[string]func(string){},
		failures: map[string]error{},
		pending:  map[string]int{},
		later:    map[string][]byte{},
	}
}

// Create adds or replaces a file.
func (fs *FS) Create(path, contents string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = []byte(contents)
}

// CreateAfter makes path appear only after it has been polled with Exists
// the given number of times, like a udev rule that takes a while to run.
func (fs *FS) CreateAfter(path, contents string, polls int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if polls <= 0 {
		fs.files[path] = []byte(contents)
		return
	}
	fs.pending[path] = polls
	fs.later[path] = []byte(contents)
}

// Remove deletes a file.
func (fs *FS) Remove(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, path)
	delete(fs.pending, path)
	delete(fs.later, path)
}

// Contents returns the current contents of path.
func (fs *FS) Contents(path string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[path]
	return string(data), ok
}

// Locked reports whether some handle currently holds path.
func (fs *FS) Locked(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.locked[path]
}

// Paths lists every existing file, sorted.
func (fs *FS) Paths() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []string
	for p := range fs.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// OnWrite registers fn to run after every write to path.
func (fs *FS) OnWrite(path string, fn func(data string)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.hooks[path] = fn
}

// Fail makes writes and reads on path return err. A nil err clears it.
func (fs *FS) Fail(path string, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err == nil {
		delete(fs.failures, path)
		return
	}
	fs.failures[path] = err
}

// Log returns every write so far, in order.
func (fs *FS) Log() []Write {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]Write(nil), fs.log...)
}

// WritesTo returns the data written to path, in order.
func (fs *FS) WritesTo(path string) []string {
	var out []string
	for _, w := range fs.Log() {
		if w.Path == path {
			out = append(out, w.Data)
		}
	}
	return out
}

// Exists implements hwfile.Provider.
func (fs *FS) Exists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n, ok := fs.pending[path]; ok {
		n--
		if n > 0 {
			fs.pending[path] = n
			return false
		}
		delete(fs.pending, path)
		fs.files[path] = fs.later[path]
		delete(fs.later, path)
	}
	_, ok := fs.files[path]
	return ok
}

// Acquire implements hwfile.Provider with the same open-then-lock contract
// as the real provider.
func (fs *FS) Acquire(path string, flag int) (hwfile.Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[path]; !ok {
		return nil, hwerr.Path(hwerr.ErrOpen, "open", path, os.ErrNotExist)
	}
	if fs.locked[path] {
		return nil, hwerr.Path(hwerr.ErrLock, "lock", path, errors.New("resource temporarily unavailable"))
	}
	fs.locked[path] = true
	return &handle{fs: fs, path: path, flag: flag}, nil
}

func (fs *FS) write(path string, data []byte) error {
	fs.mu.Lock()
	if err := fs.failures[path]; err != nil {
		fs.mu.Unlock()
		return err
	}
	fs.files[path] = append([]byte(nil), data...)
	fs.log = append(fs.log, Write{Path: path, Data: string(data)})
	hook := fs.hooks[path]
	fs.mu.Unlock()

	if hook != nil {
		hook(string(data))
	}
	return nil
}

func (fs *FS) read(path string, off int64, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.failures[path]; err != nil {
		return 0, err
	}
	data, ok := fs.files[path]
	if !ok {
		return 0, os.ErrNotExist
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	return copy(p, data[off:]), nil
}

func (fs *FS) release(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.locked, path)
}

type handle struct {
	fs     *FS
	path   string
	flag   int
	off    int64
	closed bool
}

func (h *handle) Name() string { return h.path }

func (h *handle) Fd() uintptr { return 0 }

func (h *handle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, os.ErrClosed
	}
	if h.flag&(os.O_WRONLY|os.O_RDWR) == os.O_WRONLY {
		return 0, errors.New("bad file descriptor")
	}
	n, err := h.fs.read(h.path, h.off, p)
	h.off += int64(n)
	return n, err
}

func (h *handle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, os.ErrClosed
	}
	if h.flag&(os.O_WRONLY|os.O_RDWR) == os.O_RDONLY {
		return 0, errors.New("bad file descriptor")
	}
	if err := h.fs.write(h.path, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (h *handle) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, os.ErrClosed
	}
	if whence != io.SeekStart || offset < 0 {
		return 0, errors.New("unsupported seek")
	}
	h.off = offset
	return offset, nil
}

func (h *handle) Close() error {
	if h.closed {
		return os.ErrClosed
	}
	h.closed = true
	h.fs.release(h.path)
	return nil
}
