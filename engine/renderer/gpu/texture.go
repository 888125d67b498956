package gpu

import (
	"image"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/math"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"golang.org/x/image/draw"
)

// TextureFormat is the texel format of every uploaded texture.
const TextureFormat = hal.FormatRGBA8Srgb

const texelSize = 4

// Texture is a sampled 2D image in device-local memory.
type Texture struct {
	ctx      *Context
	id       uuid.UUID
	image    hal.Image
	view     hal.ImageView
	chunk    *Chunk
	width    uint32
	height   uint32
	rowPitch uint64
}

// RowPitch rounds rowSize up to the copy pitch alignment described by alignMask (alignment-1).
func RowPitch(rowSize, alignMask uint64) uint64 {
	return math.AlignUp(rowSize, alignMask)
}

// NewTexture converts src to 8-bit RGBA and uploads it through w. Images larger than the
// device's maximum 2D dimension are scaled down to fit.
func NewTexture(w *Worker, src image.Image) (*Texture, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, core.Fail("texture: decode", core.ErrInvalidImage, errors.New("image is empty"))
	}
	rgba := toNRGBA(src, w.ctx.Limits.MaxImageDimension2D)
	b := rgba.Bounds()
	return NewTextureFromPixels(w, rgba.Pix, uint32(b.Dx()), uint32(b.Dy()))
}

func toNRGBA(src image.Image, maxDim uint32) *image.NRGBA {
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()
	if maxDim > 0 && (width > int(maxDim) || height > int(maxDim)) {
		scale := float64(maxDim) / float64(max(width, height))
		width = max(1, int(float64(width)*scale))
		height = max(1, int(float64(height)*scale))
		core.LogWarn("Texture of %dx%d exceeds the device limit of %d, scaling to %dx%d.", b.Dx(), b.Dy(), maxDim, width, height)
		dst := image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		return dst
	}
	// A SubImage keeps its parent's Pix past the last row, so the length has to match too.
	if n, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == width*texelSize && len(n.Pix) == width*height*texelSize {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// NewTextureFromPixels uploads tightly packed RGBA8 rows of the given size. The rows are staged
// through a host-visible buffer whose row pitch honours the device copy alignment, and the
// image ends up in the shader read-only layout.
func NewTextureFromPixels(w *Worker, pix []byte, width, height uint32) (*Texture, error) {
	ctx := w.ctx
	dev := ctx.Device
	rowSize := uint64(width) * texelSize
	if width == 0 || height == 0 || uint64(len(pix)) != rowSize*uint64(height) {
		return nil, core.Fail("texture: validate", core.ErrInvalidImage,
			errors.Errorf("%d bytes do not describe a %dx%d RGBA image", len(pix), width, height))
	}

	var undo []func()
	fail := func(err error) (*Texture, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, err
	}

	extent := hal.Extent2D{Width: width, Height: height}
	img, err := dev.CreateImage(hal.ImageDesc{
		Extent:    extent,
		Layers:    1,
		MipLevels: 1,
		Samples:   1,
		Format:    TextureFormat,
		Tiling:    hal.ImageTilingOptimal,
		Usage:     hal.ImageUsageTransferDst | hal.ImageUsageTransferSrc | hal.ImageUsageSampled,
	})
	if err != nil {
		return fail(core.Fail("texture: create image", core.ErrResourceCreationFailed, err))
	}
	undo = append(undo, func() { dev.DestroyImage(img) })

	view, err := dev.CreateImageView(img, TextureFormat, hal.ColorRange)
	if err != nil {
		return fail(core.Fail("texture: create view", core.ErrResourceCreationFailed, err))
	}
	undo = append(undo, func() { dev.DestroyImageView(view) })

	rowPitch := RowPitch(rowSize, pitchMask(ctx.Limits.OptimalBufferCopyPitchAlignment))
	staging, err := NewBuffer(ctx, rowPitch*uint64(height), hal.BufferUsageTransferSrc)
	if err != nil {
		return fail(errors.WithMessage(err, "texture: staging"))
	}
	undo = append(undo, staging.Destroy)

	err = staging.Write(func(dst []byte) error {
		for y := uint64(0); y < uint64(height); y++ {
			copy(dst[y*rowPitch:y*rowPitch+rowSize], pix[y*rowSize:(y+1)*rowSize])
		}
		return nil
	})
	if err != nil {
		return fail(errors.WithMessage(err, "texture: staging"))
	}

	chunk, err := NewChunk(ctx, dev.ImageRequirements(img), hal.MemoryDeviceLocal)
	if err != nil {
		return fail(errors.WithMessage(err, "texture"))
	}
	undo = append(undo, chunk.Destroy)
	if err := dev.BindImageMemory(chunk.memory, 0, img); err != nil {
		return fail(core.Fail("texture: bind memory", core.ErrResourceCreationFailed, err))
	}

	region := hal.BufferImageCopy{
		BufferRowLength:   uint32(rowPitch / texelSize),
		BufferImageHeight: height,
		ImageExtent:       extent,
	}
	err = w.Perform(func(cb hal.CommandBuffer) error {
		cb.PipelineBarrier(hal.PipelineStageTopOfPipe, hal.PipelineStageTransfer, hal.ImageBarrier{
			Image:     img,
			OldLayout: hal.ImageLayoutUndefined,
			NewLayout: hal.ImageLayoutTransferDstOptimal,
			SrcAccess: hal.AccessNone,
			DstAccess: hal.AccessTransferWrite,
			Range:     hal.ColorRange,
		})
		cb.CopyBufferToImage(staging.handle, img, hal.ImageLayoutTransferDstOptimal, region)
		cb.PipelineBarrier(hal.PipelineStageTransfer, hal.PipelineStageFragmentShader, hal.ImageBarrier{
			Image:     img,
			OldLayout: hal.ImageLayoutTransferDstOptimal,
			NewLayout: hal.ImageLayoutShaderReadOnlyOptimal,
			SrcAccess: hal.AccessTransferWrite,
			DstAccess: hal.AccessShaderRead,
			Range:     hal.ColorRange,
		})
		return nil
	})
	if err != nil {
		return fail(errors.WithMessage(err, "texture: upload"))
	}
	staging.Destroy()

	core.LogDebug("Texture %dx%d uploaded, row pitch %d.", width, height, rowPitch)
	return &Texture{
		ctx:      ctx,
		id:       ctx.retain("texture"),
		image:    img,
		view:     view,
		chunk:    chunk,
		width:    width,
		height:   height,
		rowPitch: rowPitch,
	}, nil
}

func pitchMask(alignment uint64) uint64 {
	if alignment <= 1 {
		return 0
	}
	if !math.IsPowerOfTwo(alignment) {
		core.LogWarn("Copy pitch alignment %d is not a power of two, rows are staged unpadded.", alignment)
		return 0
	}
	return alignment - 1
}

func (t *Texture) Width() uint32        { return t.width }
func (t *Texture) Height() uint32       { return t.height }
func (t *Texture) RowPitch() uint64     { return t.rowPitch }
func (t *Texture) Format() hal.Format   { return TextureFormat }
func (t *Texture) Image() hal.Image     { return t.image }
func (t *Texture) View() hal.ImageView  { return t.view }
func (t *Texture) Chunk() *Chunk        { return t.chunk }
func (t *Texture) Extent() hal.Extent2D { return hal.Extent2D{Width: t.width, Height: t.height} }

// ReadPixels copies the texture back into tightly packed RGBA8 rows. The image is returned to
// the shader read-only layout afterwards.
func (t *Texture) ReadPixels(w *Worker) ([]byte, error) {
	rowSize := uint64(t.width) * texelSize
	readback, err := NewBuffer(t.ctx, t.rowPitch*uint64(t.height), hal.BufferUsageTransferDst)
	if err != nil {
		return nil, errors.WithMessage(err, "texture: readback")
	}
	defer readback.Destroy()

	region := hal.BufferImageCopy{
		BufferRowLength:   uint32(t.rowPitch / texelSize),
		BufferImageHeight: t.height,
		ImageExtent:       t.Extent(),
	}
	err = w.Perform(func(cb hal.CommandBuffer) error {
		cb.PipelineBarrier(hal.PipelineStageFragmentShader, hal.PipelineStageTransfer, hal.ImageBarrier{
			Image:     t.image,
			OldLayout: hal.ImageLayoutShaderReadOnlyOptimal,
			NewLayout: hal.ImageLayoutTransferSrcOptimal,
			SrcAccess: hal.AccessShaderRead,
			DstAccess: hal.AccessTransferRead,
			Range:     hal.ColorRange,
		})
		cb.CopyImageToBuffer(t.image, hal.ImageLayoutTransferSrcOptimal, readback.handle, region)
		cb.PipelineBarrier(hal.PipelineStageTransfer, hal.PipelineStageFragmentShader, hal.ImageBarrier{
			Image:     t.image,
			OldLayout: hal.ImageLayoutTransferSrcOptimal,
			NewLayout: hal.ImageLayoutShaderReadOnlyOptimal,
			SrcAccess: hal.AccessTransferRead,
			DstAccess: hal.AccessShaderRead,
			Range:     hal.ColorRange,
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "texture: readback")
	}

	out := make([]byte, rowSize*uint64(t.height))
	err = readback.Read(func(src []byte) error {
		for y := uint64(0); y < uint64(t.height); y++ {
			copy(out[y*rowSize:(y+1)*rowSize], src[y*t.rowPitch:y*t.rowPitch+rowSize])
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "texture: readback")
	}
	return out, nil
}

// Destroy waits for the device to go idle, then tears down the image, its view and its chunk.
func (t *Texture) Destroy() {
	if t.image == nil {
		return
	}
	t.ctx.waitIdle("texture")
	t.ctx.Device.DestroyImage(t.image)
	t.ctx.Device.DestroyImageView(t.view)
	t.chunk.Destroy()
	t.image, t.view = nil, nil
	t.ctx.release(t.id)
}
