package testbed

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/renderer/gpu"
	"github.com/spaghettifunk/anima2d/engine/renderer/hal/haltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/colornames"
)

func TestCheckerboard(t *testing.T) {
	img := Checkerboard(64, 16, colornames.Red, colornames.Blue)

	require.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, colornames.Red, img.RGBAAt(0, 0))
	assert.Equal(t, colornames.Blue, img.RGBAAt(16, 0))
	assert.Equal(t, colornames.Blue, img.RGBAAt(0, 16))
	assert.Equal(t, colornames.Red, img.RGBAAt(17, 17))
	assert.Equal(t, colornames.Red, img.RGBAAt(63, 63))
}

func TestFirstMismatch(t *testing.T) {
	img := Checkerboard(8, 2, colornames.Black, colornames.White)
	pix := append([]byte(nil), img.Pix...)

	assert.Equal(t, -1, firstMismatch(img, pix))

	pix[5] ^= 0xff
	assert.Equal(t, 5, firstMismatch(img, pix))
	assert.Equal(t, 3, firstMismatch(img, pix[:3]))
}

func newTestGpu(t *testing.T) *gpu.Gpu {
	t.Helper()
	g, err := gpu.New(haltest.New(), &haltest.Window{Width: 640, Height: 480}, config.Default().Graphics)
	require.NoError(t, err)
	t.Cleanup(g.Destroy)
	return g
}

func writePNG(t *testing.T, path string, size int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, Checkerboard(size, 2, colornames.Red, colornames.Green)))
	require.NoError(t, f.Close())
}

func TestGameUploadsSprites(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("nope"), 0o644))

	g := newTestGpu(t)
	game := NewTestGame(dir)
	require.NoError(t, game.FnInitialize(g))
	st := game.State.(*gameState)

	require.NotNil(t, st.checker)
	assert.Equal(t, uint32(checkerSize), st.checker.Width())
	require.Len(t, st.sprites, 1)
	assert.Equal(t, uint32(8), st.sprites[filepath.Join(dir, "a.png")].Width())
	assert.Equal(t, uint32(800), st.width, "surface current extent wins over the window size")

	// A rewritten file replaces its texture on the next update.
	writePNG(t, filepath.Join(dir, "a.png"), 16)
	assert.Eventually(t, func() bool {
		if err := game.FnUpdate(g, 0.016); err != nil {
			return false
		}
		tex := st.sprites[filepath.Join(dir, "a.png")]
		return tex != nil && tex.Width() == 16
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, game.FnShutdown())
	assert.Nil(t, st.checker)
	assert.Empty(t, st.sprites)
	assert.Nil(t, st.library)
}

func TestGameWithoutAssets(t *testing.T) {
	g := newTestGpu(t)
	game := NewTestGame(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, game.FnInitialize(g))

	st := game.State.(*gameState)
	assert.Nil(t, st.library)
	assert.Empty(t, st.sprites)
	require.NoError(t, game.FnOnResize(100, 50))
	assert.Equal(t, uint32(100), st.width)
	require.NoError(t, game.FnShutdown())
}
