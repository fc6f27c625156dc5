// Package segment is the OS side of the shared region: it creates, opens,
// maps, unmaps and unlinks the named block every participant agrees on.
// The block is a file under /dev/shm, or the temporary directory when
// /dev/shm is unavailable, mapped MAP_SHARED into each process.
package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"shm-chat/contract"
	"shm-chat/errors"
	"sync"

	stderrors "errors"

	"github.com/blevesearch/mmap-go"
	"github.com/shirou/gopsutil/process"
)

const filePrefix = "shmchat_"

// Segment is one process's mapping of the shared block.
type Segment struct {
	mu     sync.Mutex
	file   *os.File
	mem    mmap.MMap
	path   string
	log    *slog.Logger
	closed bool
}

// Provider creates and opens segments of a fixed size under a fixed name.
type Provider struct {
	dir  string
	name string
	size int
	log  *slog.Logger
}

func NewProvider(name string, size int, log *slog.Logger) *Provider {
	return NewProviderInDir(defaultDir(), name, size, log)
}

func NewProviderInDir(dir, name string, size int, log *slog.Logger) *Provider {
	return &Provider{dir: dir, name: name, size: size, log: log}
}

func (p *Provider) Path() string {
	return filepath.Join(p.dir, filePrefix+p.name)
}

// Create maps the segment for the server, creating the file when needed.
// The server keeps an exclusive lock on the file for as long as the segment
// stays open, so a second live server fails with ErrServerAlreadyRunning
// while the segment of a crashed server is taken over. fresh is true when
// the block was (re)allocated and must be formatted.
func (p *Provider) Create() (contract.Segment, bool, error) {
	path := p.Path()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}
	if err := lockExclusive(file); err != nil {
		_ = file.Close()
		return nil, false, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, false, fmt.Errorf("failed to stat segment file: %w", err)
	}
	fresh := info.Size() != int64(p.size)
	if fresh {
		// Truncating to zero first guarantees zero bytes even over a reused file.
		if err := file.Truncate(0); err != nil {
			_ = file.Close()
			return nil, false, fmt.Errorf("failed to reset segment file: %w", err)
		}
		if err := file.Truncate(int64(p.size)); err != nil {
			_ = file.Close()
			return nil, false, fmt.Errorf("failed to resize segment file: %w", err)
		}
	}

	seg, err := p.mapFile(file, path)
	if err != nil {
		return nil, false, err
	}
	p.log.Info("Shared memory segment created", "path", path, "size", p.size, "fresh", fresh)
	return seg, fresh, nil
}

// Open maps an existing segment for a client.
func (p *Provider) Open() (contract.Segment, error) {
	path := p.Path()
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errors.ErrSegmentNotFound, path)
		}
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	if info.Size() < int64(p.size) {
		_ = file.Close()
		return nil, fmt.Errorf("%w: segment file holds %d bytes, need %d",
			errors.ErrRegionTooSmall, info.Size(), p.size)
	}

	seg, err := p.mapFile(file, path)
	if err != nil {
		return nil, err
	}
	p.log.Debug("Shared memory segment opened", "path", path)
	return seg, nil
}

func (p *Provider) mapFile(file *os.File, path string) (*Segment, error) {
	mem, err := mmap.MapRegion(file, p.size, mmap.RDWR, 0, 0)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}
	return &Segment{file: file, mem: mem, path: path, log: p.log}, nil
}

func (s *Segment) Bytes() []byte {
	return s.mem
}

func (s *Segment) Path() string {
	return s.path
}

// Close unmaps this view and closes the file, releasing any lock it held.
// The memory must not be touched afterwards.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.mem.Unmap(); err != nil {
		errs = append(errs, fmt.Errorf("munmap failed: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// Unlink removes the segment file. Views that are still mapped stay valid
// until they are closed.
func (s *Segment) Unlink() error {
	if err := os.Remove(s.path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to unlink segment %s: %w", s.path, err)
	}
	s.log.Info("Shared memory segment unlinked", "path", s.path)
	return nil
}

// ProcessAlive reports whether pid names a running process. Clients use it to
// tell a live server from the leftovers of a crashed one.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// defaultDir prefers /dev/shm, the tmpfs backing POSIX shared memory on Linux.
func defaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
