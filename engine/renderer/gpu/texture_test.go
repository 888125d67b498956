package gpu

import (
	"image"
	"image/color"
	"math/rand"
	"strings"
	"testing"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, b *haltest.Backend) *Worker {
	t.Helper()
	ctx, _, qg := newTestContext(t, b)
	w, err := NewWorker(ctx, qg)
	require.NoError(t, err)
	t.Cleanup(w.Destroy)
	return w
}

func randomPixels(width, height int) []byte {
	pix := make([]byte, width*height*4)
	rand.New(rand.NewSource(int64(width*31 + height))).Read(pix)
	return pix
}

func TestRowPitch(t *testing.T) {
	for _, alignment := range []uint64{1, 2, 4, 16, 64, 256} {
		for row := uint64(1); row <= 1024; row += 7 {
			pitch := RowPitch(row, alignment-1)
			assert.GreaterOrEqual(t, pitch, row)
			assert.Zero(t, pitch%alignment, "row %d alignment %d", row, alignment)
			assert.Less(t, pitch-row, alignment)
		}
	}
}

func TestTextureRoundTrip(t *testing.T) {
	sizes := [][2]int{{1, 1}, {3, 5}, {64, 64}, {65, 17}, {100, 3}}
	for _, alignment := range []uint64{1, 256} {
		b := haltest.New()
		b.Adapters[0].Limits.OptimalBufferCopyPitchAlignment = alignment
		w := newTestWorker(t, b)

		for _, size := range sizes {
			width, height := size[0], size[1]
			pix := randomPixels(width, height)

			tex, err := NewTextureFromPixels(w, pix, uint32(width), uint32(height))
			require.NoError(t, err)
			assert.Zero(t, tex.RowPitch()%alignment)
			assert.GreaterOrEqual(t, tex.RowPitch(), uint64(width*4))

			img := tex.Image().(*haltest.Image)
			assert.Equal(t, hal.ImageLayoutShaderReadOnlyOptimal, img.Layout)
			assert.Equal(t, pix, img.Pixels)

			back, err := tex.ReadPixels(w)
			require.NoError(t, err)
			assert.Equal(t, pix, back, "%dx%d alignment %d", width, height, alignment)
			assert.Equal(t, hal.ImageLayoutShaderReadOnlyOptimal, img.Layout)
			tex.Destroy()
		}
		assert.Equal(t, map[string]int{"context": 1, "worker": 1}, w.ctx.Live())
	}
}

func TestTextureUploadSequence(t *testing.T) {
	b := haltest.New()
	w := newTestWorker(t, b)
	b.ResetEvents()

	tex, err := NewTextureFromPixels(w, randomPixels(4, 4), 4, 4)
	require.NoError(t, err)
	defer tex.Destroy()

	var cmds []string
	for _, e := range b.Events() {
		if strings.HasPrefix(e, "cmd ") {
			cmds = append(cmds, e)
		}
	}
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[0], "cmd barrier")
	assert.Contains(t, cmds[1], "cmd copy-buffer-to-image")
	assert.Contains(t, cmds[2], "cmd barrier")
	assert.Equal(t, 1, b.CountEvents("submit"))
	assert.Zero(t, b.Live()["buffer"], "staging buffer is destroyed after the upload")
	assert.Equal(t, TextureFormat, tex.Image().(*haltest.Image).Desc.Format)
	assert.Equal(t, 0, tex.Chunk().TypeIndex(), "device-local memory")
}

func TestNewTextureConvertsImages(t *testing.T) {
	b := haltest.New()
	w := newTestWorker(t, b)

	src := image.NewGray(image.Rect(10, 10, 13, 12))
	src.SetGray(10, 10, color.Gray{Y: 200})
	src.SetGray(12, 11, color.Gray{Y: 50})

	tex, err := NewTexture(w, src)
	require.NoError(t, err)
	defer tex.Destroy()

	assert.Equal(t, hal.Extent2D{Width: 3, Height: 2}, tex.Extent())
	pix, err := tex.ReadPixels(w)
	require.NoError(t, err)
	assert.Equal(t, []byte{200, 200, 200, 255}, pix[0:4])
	assert.Equal(t, []byte{0, 0, 0, 255}, pix[4:8])
	assert.Equal(t, []byte{50, 50, 50, 255}, pix[20:24])
}

func TestNewTextureFromSheetRow(t *testing.T) {
	b := haltest.New()
	w := newTestWorker(t, b)

	sheet := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	copy(sheet.Pix, randomPixels(4, 4))
	row := sheet.SubImage(image.Rect(0, 0, 4, 2)).(*image.NRGBA)
	require.Len(t, row.Pix, 4*4*4, "the crop still shares the sheet's pixels")

	tex, err := NewTexture(w, row)
	require.NoError(t, err)
	defer tex.Destroy()

	assert.Equal(t, hal.Extent2D{Width: 4, Height: 2}, tex.Extent())
	pix, err := tex.ReadPixels(w)
	require.NoError(t, err)
	assert.Equal(t, sheet.Pix[:4*2*4], pix)
}

func TestNewTextureScalesOversizedImages(t *testing.T) {
	b := haltest.New()
	b.Adapters[0].Limits.MaxImageDimension2D = 16
	w := newTestWorker(t, b)

	tex, err := NewTexture(w, image.NewNRGBA(image.Rect(0, 0, 64, 32)))
	require.NoError(t, err)
	defer tex.Destroy()
	assert.Equal(t, hal.Extent2D{Width: 16, Height: 8}, tex.Extent())
}

func TestNewTextureRejectsBadInput(t *testing.T) {
	b := haltest.New()
	w := newTestWorker(t, b)

	_, err := NewTexture(w, nil)
	assert.ErrorIs(t, err, core.ErrInvalidImage)
	_, err = NewTexture(w, image.NewNRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, core.ErrInvalidImage)
	_, err = NewTextureFromPixels(w, make([]byte, 15), 2, 2)
	assert.ErrorIs(t, err, core.ErrInvalidImage)
	_, err = NewTextureFromPixels(w, nil, 0, 0)
	assert.ErrorIs(t, err, core.ErrInvalidImage)
	assert.Equal(t, 0, b.CountEvents("create image"))
}

func TestNewTextureCleansUpOnFailure(t *testing.T) {
	stages := map[string]string{
		"CreateImage":     "texture: create image",
		"CreateImageView": "texture: create view",
		"CreateBuffer":    "buffer: create",
		"MapMemory":       "buffer: write",
		"BindImageMemory": "texture: bind memory",
		"Submit":          "worker: submit",
		"CreateFence":     "worker: create fence",
		"AllocateMemory":  "chunk: allocate",
	}

	for op, stage := range stages {
		t.Run(op, func(t *testing.T) {
			b := haltest.New()
			w := newTestWorker(t, b)
			before := b.Live()
			b.Fail(op, hal.ErrOutOfMemory)

			tex, err := NewTextureFromPixels(w, randomPixels(8, 8), 8, 8)
			require.Error(t, err)
			assert.Nil(t, tex)
			assert.Equal(t, stage, core.Stage(err))
			assert.Equal(t, before, b.Live())
			assert.Equal(t, map[string]int{"context": 1, "worker": 1}, w.ctx.Live())
		})
	}
}

func TestTextureDestroyOrder(t *testing.T) {
	b := haltest.New()
	w := newTestWorker(t, b)
	tex, err := NewTextureFromPixels(w, randomPixels(2, 2), 2, 2)
	require.NoError(t, err)
	b.ResetEvents()

	tex.Destroy()
	events := b.Events()
	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, "wait idle", events[0])
	assert.Contains(t, events[1], "destroy image:")
	assert.Contains(t, events[2], "destroy view:")
	assert.Equal(t, "wait idle", events[3])
	assert.Contains(t, events[4], "free memory:")
}
