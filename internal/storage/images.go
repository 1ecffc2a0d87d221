package storage

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	originalFile  = "original.png"
	annotatedFile = "annotated.jpg"
	thumbnailFile = "thumbnail.jpg"

	// thumbnails are small previews, quality above this buys nothing
	maxThumbnailQuality = 75
)

type imagePaths struct {
	original  string
	annotated string
	thumbnail string
}

// imageWriter encodes the three stored variants of a capture
type imageWriter struct {
	quality       int
	thumbnailSize int
}

func newImageWriter(quality, thumbnailSize int) imageWriter {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	if thumbnailSize <= 0 {
		thumbnailSize = 320
	}
	return imageWriter{quality: quality, thumbnailSize: thumbnailSize}
}

func (w imageWriter) thumbnailQuality() int {
	return min(w.quality, maxThumbnailQuality)
}

// write stores the original losslessly, the annotated copy as JPEG and a
// thumbnail of the annotated copy fitted into thumbnailSize
func (w imageWriter) write(dir string, original, annotated image.Image) (imagePaths, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return imagePaths{}, fmt.Errorf("failed to create capture directory: %w", err)
	}

	paths := imagePaths{
		original:  filepath.Join(dir, originalFile),
		annotated: filepath.Join(dir, annotatedFile),
		thumbnail: filepath.Join(dir, thumbnailFile),
	}

	if err := writeFile(paths.original, func(f *os.File) error {
		return png.Encode(f, original)
	}); err != nil {
		return imagePaths{}, fmt.Errorf("failed to write original: %w", err)
	}

	if err := writeFile(paths.annotated, func(f *os.File) error {
		return jpeg.Encode(f, annotated, &jpeg.Options{Quality: w.quality})
	}); err != nil {
		return imagePaths{}, fmt.Errorf("failed to write annotated image: %w", err)
	}

	thumb := imaging.Fit(annotated, w.thumbnailSize, w.thumbnailSize, imaging.Lanczos)
	if err := writeFile(paths.thumbnail, func(f *os.File) error {
		return jpeg.Encode(f, thumb, &jpeg.Options{Quality: w.thumbnailQuality()})
	}); err != nil {
		return imagePaths{}, fmt.Errorf("failed to write thumbnail: %w", err)
	}

	return paths, nil
}

func writeFile(path string, encode func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
