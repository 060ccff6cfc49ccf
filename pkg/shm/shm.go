// Package shm manages named shared-memory regions and region-relative
// references. A region is a /dev/shm-backed mapping that multiple processes
// can attach by name; a Ref is a byte offset into the region, valid in every
// process that maps it. Raw addresses never cross a process boundary.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrMapFailed indicates the OS refused to create or map the region.
var ErrMapFailed = errors.New("shm: mapping failed")

// ErrBadRef indicates a reference outside the region bounds.
var ErrBadRef = errors.New("shm: reference out of region bounds")

const shmDir = "/dev/shm"

// Ref is a region-relative reference: a byte offset from the region base.
// It is the only pointer form that may be handed to another process.
type Ref uint64

// Region is one mapped shared-memory segment.
type Region struct {
	name string
	base []byte
}

// Map creates (or attaches) the named region and maps it read-write.
// With exclusive set, creation fails if the segment already exists.
// When hugePages is set the kernel is advised to back the mapping with
// transparent hugepages; this is advisory and never fails the mapping.
func Map(name string, size int, hugePages, exclusive bool) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrMapFailed, size)
	}

	flags := unix.O_RDWR | unix.O_CREAT
	if exclusive {
		flags |= unix.O_EXCL
	}
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMapFailed, path, err)
	}
	defer unix.Close(fd)

	// Grow the segment if needed, but never shrink: another process may
	// have the full region live, and truncation would zero its pages.
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		if exclusive {
			unix.Unlink(path)
		}
		return nil, fmt.Errorf("%w: fstat %s: %v", ErrMapFailed, path, err)
	}
	if st.Size < int64(size) {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			if exclusive {
				unix.Unlink(path)
			}
			return nil, fmt.Errorf("%w: ftruncate %s: %v", ErrMapFailed, path, err)
		}
	}

	base, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if exclusive {
			unix.Unlink(path)
		}
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrMapFailed, path, err)
	}

	if hugePages {
		// Best effort: THP is not available on all kernels/configs.
		_ = unix.Madvise(base, unix.MADV_HUGEPAGE)
	}

	return &Region{name: name, base: base}, nil
}

// Name returns the segment name the region was mapped under.
func (r *Region) Name() string { return r.name }

// Len returns the mapped size in bytes.
func (r *Region) Len() int { return len(r.base) }

// Bytes returns a view of n bytes at ref.
func (r *Region) Bytes(ref Ref, n int) ([]byte, error) {
	end := uint64(ref) + uint64(n)
	if n < 0 || end > uint64(len(r.base)) {
		return nil, fmt.Errorf("%w: ref=%d len=%d region=%d", ErrBadRef, ref, n, len(r.base))
	}
	return r.base[ref:end:end], nil
}

// RefOf translates a pointer into the region to a region-relative reference.
// The pointer must address at least size bytes inside the mapping.
func (r *Region) RefOf(p unsafe.Pointer, size int) (Ref, error) {
	base := uintptr(unsafe.Pointer(&r.base[0]))
	off := uintptr(p) - base
	if uintptr(p) < base || uint64(off)+uint64(size) > uint64(len(r.base)) {
		return 0, ErrBadRef
	}
	return Ref(off), nil
}

// At translates a region-relative reference back to a local pointer
// addressing at least size bytes.
func (r *Region) At(ref Ref, size int) (unsafe.Pointer, error) {
	if uint64(ref)+uint64(size) > uint64(len(r.base)) {
		return nil, fmt.Errorf("%w: ref=%d size=%d region=%d", ErrBadRef, ref, size, len(r.base))
	}
	return unsafe.Pointer(&r.base[ref]), nil
}

// Unmap releases the mapping. The segment itself persists until unlinked.
func (r *Region) Unmap() error {
	if r.base == nil {
		return nil
	}
	err := unix.Munmap(r.base)
	r.base = nil
	return err
}

// Unlink removes the named segment. Existing mappings stay valid until
// unmapped.
func (r *Region) Unlink() error {
	return Unlink(r.name)
}

// Unlink removes a named segment that is not currently mapped by the caller.
func Unlink(name string) error {
	err := unix.Unlink(filepath.Join(shmDir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
