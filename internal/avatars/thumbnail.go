package avatars

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrThumbnail is returned when the upload cannot be decoded or resized.
var ErrThumbnail = errors.New("thumbnail generation failed")

// Default thumbnail bounds in pixels.
const (
	DefaultLargeSize = 200
	DefaultSmallSize = 80
)

// ImageSet is the PNG-encoded original plus its two thumbnails.
type ImageSet struct {
	Original []byte
	Large    []byte
	Small    []byte
}

// MakeThumbnails decodes data and produces PNG renditions: the original at
// full size and two copies fitted inside large x large and small x small.
// Images already smaller than a bound are not enlarged.
func MakeThumbnails(data []byte, large, small int) (ImageSet, error) {
	if large <= 0 {
		large = DefaultLargeSize
	}
	if small <= 0 {
		small = DefaultSmallSize
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return ImageSet{}, fmt.Errorf("%w: decode: %v", ErrThumbnail, err)
	}

	var set ImageSet
	if set.Original, err = encodePNG(img); err != nil {
		return ImageSet{}, err
	}
	if set.Large, err = encodePNG(imaging.Fit(img, large, large, imaging.Lanczos)); err != nil {
		return ImageSet{}, err
	}
	if set.Small, err = encodePNG(imaging.Fit(img, small, small, imaging.Lanczos)); err != nil {
		return ImageSet{}, err
	}
	return set, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrThumbnail, err)
	}
	return buf.Bytes(), nil
}
