package gpu

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// Buffer is a CPU-visible linear buffer backed by its own Chunk.
type Buffer struct {
	ctx    *Context
	id     uuid.UUID
	handle hal.Buffer
	chunk  *Chunk
	size   uint64
	usage  hal.BufferUsage
}

func NewBuffer(ctx *Context, size uint64, usage hal.BufferUsage) (*Buffer, error) {
	if size == 0 {
		return nil, core.Fail("buffer: create", core.ErrResourceCreationFailed, errors.New("buffer size must be positive"))
	}
	handle, err := ctx.Device.CreateBuffer(size, usage)
	if err != nil {
		return nil, core.Fail("buffer: create", core.ErrResourceCreationFailed, err)
	}
	chunk, err := NewChunk(ctx, ctx.Device.BufferRequirements(handle), hal.MemoryCPUVisible)
	if err != nil {
		ctx.Device.DestroyBuffer(handle)
		return nil, errors.WithMessage(err, "buffer")
	}
	if err := ctx.Device.BindBufferMemory(chunk.memory, 0, handle); err != nil {
		ctx.Device.DestroyBuffer(handle)
		chunk.Destroy()
		return nil, core.Fail("buffer: bind memory", core.ErrResourceCreationFailed, err)
	}
	return &Buffer{
		ctx:    ctx,
		id:     ctx.retain("buffer"),
		handle: handle,
		chunk:  chunk,
		size:   size,
		usage:  usage,
	}, nil
}

// Size is the size of the backing chunk, never less than the requested size.
func (b *Buffer) Size() uint64           { return b.chunk.Size() }
func (b *Buffer) RequestedSize() uint64  { return b.size }
func (b *Buffer) Usage() hal.BufferUsage { return b.usage }
func (b *Buffer) Chunk() *Chunk          { return b.chunk }
func (b *Buffer) Handle() hal.Buffer     { return b.handle }

// Write maps the whole chunk and hands the mapped bytes to fn. The mapping is released when fn
// returns, panics included, and a failed release is reported alongside any error from fn.
func (b *Buffer) Write(fn func(dst []byte) error) error {
	return b.mapped("buffer: write", fn)
}

// Read maps the whole chunk for reading. The slice must not be retained after fn returns.
func (b *Buffer) Read(fn func(src []byte) error) error {
	return b.mapped("buffer: read", fn)
}

func (b *Buffer) mapped(stage string, fn func([]byte) error) (err error) {
	dev := b.ctx.Device
	data, err := dev.MapMemory(b.chunk.memory, 0, b.chunk.Size())
	if err != nil {
		return core.Fail(stage, core.ErrMappingAcquireFailed, err)
	}
	defer func() {
		if uerr := dev.UnmapMemory(b.chunk.memory); uerr != nil {
			err = core.Join(err, core.Fail(stage, core.ErrMappingReleaseFailed, uerr))
		}
	}()
	return fn(data)
}

// Destroy waits for the device to go idle and destroys the buffer, then its chunk.
func (b *Buffer) Destroy() {
	if b.handle == nil {
		return
	}
	b.ctx.waitIdle("buffer")
	b.ctx.Device.DestroyBuffer(b.handle)
	b.handle = nil
	b.chunk.Destroy()
	b.ctx.release(b.id)
}
