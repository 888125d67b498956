package assets

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"}

// IsImage reports whether path has an extension one of the registered decoders handles.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range imageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// LoadImage decodes the image at path. The format is sniffed from the content, not the extension.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, errors.Errorf("%s: empty %s image", path, format)
	}
	return img, nil
}
