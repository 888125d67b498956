package gpu

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
)

// Chunk is a single device memory allocation.
type Chunk struct {
	ctx          *Context
	id           uuid.UUID
	memory       hal.Memory
	requirements hal.MemoryRequirements
	properties   hal.MemoryProperty
	typeIndex    int
}

// FindMemoryType returns the lowest memory type index allowed by typeMask whose properties
// include every flag in want.
func FindMemoryType(props hal.MemoryProperties, typeMask uint32, want hal.MemoryProperty) (int, bool) {
	for i, t := range props.MemoryTypes {
		if i >= 32 {
			break
		}
		if typeMask&(1<<uint(i)) != 0 && t.Properties.Contains(want) {
			return i, true
		}
	}
	return -1, false
}

// NewChunk allocates req.Size bytes from a memory type compatible with req and props.
func NewChunk(ctx *Context, req hal.MemoryRequirements, props hal.MemoryProperty) (*Chunk, error) {
	index, ok := FindMemoryType(ctx.Memory, req.TypeMask, props)
	if !ok {
		return nil, core.Fail("chunk: find memory type", core.ErrNoCompatibleMemoryType,
			errors.Errorf("no memory type in mask %#b has %s", req.TypeMask, props))
	}
	memory, err := ctx.Device.AllocateMemory(index, req.Size)
	if err != nil {
		return nil, core.Fail("chunk: allocate", core.ErrResourceCreationFailed, err)
	}
	return &Chunk{
		ctx:          ctx,
		id:           ctx.retain("chunk"),
		memory:       memory,
		requirements: req,
		properties:   props,
		typeIndex:    index,
	}, nil
}

func (c *Chunk) Size() uint64                         { return c.requirements.Size }
func (c *Chunk) TypeIndex() int                       { return c.typeIndex }
func (c *Chunk) Properties() hal.MemoryProperty       { return c.properties }
func (c *Chunk) Requirements() hal.MemoryRequirements { return c.requirements }
func (c *Chunk) Memory() hal.Memory                   { return c.memory }

// Destroy waits for the device to go idle and frees the allocation.
func (c *Chunk) Destroy() {
	if c.memory == nil {
		return
	}
	c.ctx.waitIdle("chunk")
	c.ctx.Device.FreeMemory(c.memory)
	c.memory = nil
	c.ctx.release(c.id)
}
