// Package arena implements the bump allocator all transient buffers are
// carved from: weight rows, activations, stream buffers and token buffers.
//
// There is no per-allocation free. Memory is reclaimed by restoring to a
// checkpoint or by resetting the whole arena, so everything allocated after
// a checkpoint becomes invalid at once when that checkpoint is restored.
package arena

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/jwiedeman/N64Soul/format"
	"github.com/jwiedeman/N64Soul/util"
)

// MaxCheckpoints is the depth of the checkpoint stack.
const MaxCheckpoints = 8

// DefaultBase is where the heap starts on the target, after the OS image.
const DefaultBase uintptr = 0x8030_0000

var (
	ErrOutOfMemory     = errors.New("arena: out of memory")
	ErrCheckpointDepth = errors.New("arena: checkpoint stack exhausted")
)

// Checkpoint is a token naming a position on the checkpoint stack.
type Checkpoint int

// Arena hands out memory from [start, end) by advancing a cursor.
// It is not safe for concurrent use.
type Arena struct {
	mem []byte

	start, end, cursor uintptr

	checkpoints [MaxCheckpoints]uintptr
	depth       int
}

// New returns an arena of size bytes addressed from DefaultBase.
func New(size int) *Arena {
	return NewAt(DefaultBase, make([]byte, size))
}

// NewAt returns an arena over mem whose first byte has address start.
// Alignment is computed on addresses, so start should be at least as aligned
// as mem's real backing storage for typed views to be safe.
func NewAt(start uintptr, mem []byte) *Arena {
	return &Arena{
		mem:    mem,
		start:  start,
		end:    start + uintptr(len(mem)),
		cursor: start,
	}
}

// Alloc returns size zeroed bytes whose address is a multiple of align.
// On failure the cursor does not move.
func (a *Arena) Alloc(size, align int) ([]byte, error) {
	if size < 0 || align < 0 {
		return nil, fmt.Errorf("arena: invalid request size=%d align=%d", size, align)
	}

	addr := util.AlignUp(a.cursor, uintptr(align))
	if addr < a.cursor || addr > a.end || uintptr(size) > a.end-addr {
		return nil, fmt.Errorf("%w: want %d bytes, %d available", ErrOutOfMemory, size, a.Available())
	}

	a.cursor = addr + uintptr(size)

	lo := int(addr - a.start)
	b := a.mem[lo : lo+size : lo+size]
	clear(b)
	return b, nil
}

// Checkpoint pushes the cursor and returns its depth. When the stack is full
// it pushes nothing and returns the deepest existing token, so nesting past
// MaxCheckpoints silently shares the innermost checkpoint.
func (a *Arena) Checkpoint() Checkpoint {
	if a.depth == MaxCheckpoints {
		return Checkpoint(MaxCheckpoints - 1)
	}

	a.checkpoints[a.depth] = a.cursor
	a.depth++
	return Checkpoint(a.depth - 1)
}

// RestoreTo pops cp and rewinds the cursor to where it was when cp was taken.
// It does nothing and returns false unless cp is the top of the stack.
func (a *Arena) RestoreTo(cp Checkpoint) bool {
	if a.depth == 0 || int(cp) != a.depth-1 {
		return false
	}

	a.depth--
	a.cursor = a.checkpoints[a.depth]
	return true
}

// Scope runs fn between a checkpoint and its restore. The restore happens on
// every return path, so fn's allocations never outlive it.
func (a *Arena) Scope(fn func() error) error {
	if a.depth == MaxCheckpoints {
		return ErrCheckpointDepth
	}

	cp := a.Checkpoint()
	defer a.RestoreTo(cp)
	return fn()
}

// Reset discards every allocation and checkpoint.
func (a *Arena) Reset() {
	a.cursor = a.start
	a.depth = 0
}

func (a *Arena) Start() uintptr  { return a.start }
func (a *Arena) End() uintptr    { return a.end }
func (a *Arena) Cursor() uintptr { return a.cursor }

// Depth is the number of live checkpoints.
func (a *Arena) Depth() int { return a.depth }

func (a *Arena) Used() uint64      { return uint64(a.cursor - a.start) }
func (a *Arena) Available() uint64 { return uint64(a.end - a.cursor) }
func (a *Arena) Total() uint64     { return uint64(a.end - a.start) }

// LogUsage reports the arena fill level under label.
func (a *Arena) LogUsage(label string) {
	slog.Debug("arena usage", "label", label,
		"used", format.HumanBytes2(a.Used()),
		"total", format.HumanBytes2(a.Total()),
		"depth", a.depth)
}

func (a *Arena) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("used", a.Used()),
		slog.Uint64("total", a.Total()),
		slog.Int("depth", a.depth),
	)
}

// Scalar is the set of element types the arena can hand out typed views of.
type Scalar interface {
	~float32 | ~float64 | ~int32 | ~uint32 | ~uint16
}

// Slice allocates n zeroed elements of T with T's natural alignment.
func Slice[T Scalar](a *Arena, n int) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if n < 0 || (n > 0 && size > int(^uint(0)>>1)/n) {
		return nil, fmt.Errorf("arena: invalid element count %d", n)
	}

	b, err := a.Alloc(n*size, int(unsafe.Alignof(zero)))
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return []T{}, nil
	}

	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n), nil
}
