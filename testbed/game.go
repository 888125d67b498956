package testbed

import (
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine"
	"github.com/spaghettifunk/anima2d/engine/assets"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/gpu"
	"golang.org/x/image/colornames"
)

const (
	checkerSize = 256
	checkerCell = 32
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	assetsDir string
	library   *assets.Library
	sprites   map[string]*gpu.Texture

	checker *gpu.Texture
	elapsed float64
	frames  uint64

	width  uint32
	height uint32
}

// NewTestGame returns the testbed. Images found under assetsDir are uploaded as textures and
// re-uploaded whenever they change on disk; an empty or missing directory is skipped.
func NewTestGame(assetsDir string) *engine.Game {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{
				assetsDir: assetsDir,
				sprites:   make(map[string]*gpu.Texture),
			},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg.Game
}

func (tg *TestGame) state() *gameState {
	return tg.State.(*gameState)
}

// Initialize uploads a checkerboard and reads it back to make sure the round trip through the
// staging buffers is lossless.
func (tg *TestGame) Initialize(g *gpu.Gpu) error {
	st := tg.state()
	img := Checkerboard(checkerSize, checkerCell, colornames.Cornflowerblue, colornames.Whitesmoke)

	tex, err := g.UploadImage(img)
	if err != nil {
		return errors.WithMessage(err, "upload checkerboard")
	}
	st.checker = tex

	pix, err := tex.ReadPixels(g.Worker())
	if err != nil {
		return errors.WithMessage(err, "read back checkerboard")
	}
	if mismatch := firstMismatch(img, pix); mismatch >= 0 {
		core.LogWarn("checkerboard read back differs at byte %d", mismatch)
	} else {
		core.LogInfo("checkerboard %dx%d uploaded and verified", tex.Width(), tex.Height())
	}
	if err := tg.openLibrary(g); err != nil {
		return err
	}
	if sc := g.Swapchain(); sc != nil {
		st.width, st.height = sc.Extent().Width, sc.Extent().Height
	}
	return nil
}

func (tg *TestGame) Update(g *gpu.Gpu, deltaTime float64) error {
	st := tg.state()
	st.elapsed += deltaTime
	st.frames++
	if st.library != nil {
		tg.reloadChanged(g)
	}
	if st.frames%600 == 0 {
		core.LogDebug("testbed: %d frames in %.1fs at %dx%d", st.frames, st.elapsed, st.width, st.height)
	}
	return nil
}

func (tg *TestGame) OnResize(width, height uint32) error {
	st := tg.state()
	st.width, st.height = width, height
	return nil
}

func (tg *TestGame) Shutdown() error {
	st := tg.state()
	var err error
	if st.library != nil {
		err = st.library.Close()
		st.library = nil
	}
	for path, tex := range st.sprites {
		tex.Destroy()
		delete(st.sprites, path)
	}
	if st.checker != nil {
		st.checker.Destroy()
		st.checker = nil
	}
	return err
}

func (tg *TestGame) openLibrary(g *gpu.Gpu) error {
	st := tg.state()
	if st.assetsDir == "" {
		return nil
	}
	lib, err := assets.NewLibrary(st.assetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			core.LogInfo("no assets directory at %s", st.assetsDir)
			return nil
		}
		return errors.WithMessage(err, "open assets")
	}
	st.library = lib
	for _, path := range lib.Images() {
		tg.uploadSprite(g, path)
	}
	core.LogInfo("%d sprites uploaded from %s", len(st.sprites), st.assetsDir)
	return nil
}

// reloadChanged re-uploads every image the library reported since the last frame.
func (tg *TestGame) reloadChanged(g *gpu.Gpu) {
	st := tg.state()
	for {
		select {
		case path := <-st.library.Changed():
			tg.uploadSprite(g, path)
		default:
			return
		}
	}
}

// uploadSprite replaces the texture for path. A file that fails to decode keeps the old texture.
func (tg *TestGame) uploadSprite(g *gpu.Gpu, path string) {
	st := tg.state()
	img, err := assets.LoadImage(path)
	if err != nil {
		core.LogWarn("sprite %s skipped: %s", path, err)
		return
	}
	tex, err := g.UploadImage(img)
	if err != nil {
		core.LogWarn("sprite %s upload failed: %s", path, err)
		return
	}
	if old, ok := st.sprites[path]; ok {
		old.Destroy()
	}
	st.sprites[path] = tex
	core.LogDebug("sprite %s uploaded (%dx%d)", path, tex.Width(), tex.Height())
}

// Checkerboard returns a size x size image of cell-wide squares alternating between a and b.
func Checkerboard(size, cell int, a, b color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetRGBA(x, y, a)
			} else {
				img.SetRGBA(x, y, b)
			}
		}
	}
	return img
}

func firstMismatch(img *image.RGBA, pix []byte) int {
	if len(pix) != len(img.Pix) {
		return min(len(pix), len(img.Pix))
	}
	for i := range pix {
		if pix[i] != img.Pix[i] {
			return i
		}
	}
	return -1
}
