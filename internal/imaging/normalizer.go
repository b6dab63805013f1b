// Package imaging turns uploaded scans into the dense tensor the
// classification model expects.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	// Registered decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// Size is the square edge length the model was trained on.
	Size = 224

	// Channels is the number of color channels in a tensor pixel.
	Channels = 3

	// MaxPixels bounds the decoded resolution of an upload.
	MaxPixels = 64 * 1024 * 1024
)

var (
	// ErrDecode indicates the bytes are not a supported image format.
	ErrDecode = errors.New("unsupported or corrupt image")
	// ErrUnsupportedChannelLayout indicates the image is neither RGB nor RGBA.
	ErrUnsupportedChannelLayout = errors.New("unsupported channel layout")
	// ErrImageTooLarge indicates the image exceeds MaxPixels.
	ErrImageTooLarge = errors.New("image resolution too large")
)

// Tensor is a [Size][Size][Channels] array of values in [0, 1].
// It serializes to nested JSON arrays, rows first.
type Tensor [][][Channels]float32

// Dims returns the tensor dimensions as height, width, channels.
func (t Tensor) Dims() (int, int, int) {
	if len(t) == 0 {
		return 0, 0, Channels
	}
	return len(t), len(t[0]), Channels
}

// Normalizer decodes, resizes and scales images into tensors.
type Normalizer struct {
	size            int
	expandGrayscale bool
	filter          draw.Interpolator
}

// NewNormalizer creates a Normalizer producing Size x Size tensors.
// When expandGrayscale is set, single-channel images are replicated into
// three channels instead of being rejected.
func NewNormalizer(expandGrayscale bool) *Normalizer {
	return &Normalizer{
		size:            Size,
		expandGrayscale: expandGrayscale,
		filter:          draw.CatmullRom,
	}
}

// Normalize decodes data, resizes it to a square, drops alpha and divides
// every channel byte by 255.
func (n *Normalizer) Normalize(data []byte) (Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, ErrImageTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	channels := ChannelCount(img)
	if c, ok := pngChannels(data); ok {
		channels = c
	}

	switch channels {
	case 3, 4:
	case 1:
		if !n.expandGrayscale {
			return nil, fmt.Errorf("%w: %d channel", ErrUnsupportedChannelLayout, channels)
		}
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedChannelLayout, channels)
	}

	// NRGBA keeps color values unpremultiplied, so dropping alpha afterwards
	// leaves the original RGB intact.
	dst := image.NewNRGBA(image.Rect(0, 0, n.size, n.size))
	n.filter.Scale(dst, dst.Bounds(), img, coverRect(img.Bounds()), draw.Src, nil)

	return toTensor(dst), nil
}

// coverRect returns the largest centered square inside b. Scaling it onto
// the output fills the square without distortion, cropping the long edge.
func coverRect(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w > h {
		off := (w - h) / 2
		return image.Rect(b.Min.X+off, b.Min.Y, b.Min.X+off+h, b.Max.Y)
	}
	off := (h - w) / 2
	return image.Rect(b.Min.X, b.Min.Y+off, b.Max.X, b.Min.Y+off+w)
}

func toTensor(img *image.NRGBA) Tensor {
	bounds := img.Bounds()
	t := make(Tensor, bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		row := make([][Channels]float32, bounds.Dx())
		for x := 0; x < bounds.Dx(); x++ {
			i := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			row[x] = [Channels]float32{
				float32(img.Pix[i]) / 255.0,
				float32(img.Pix[i+1]) / 255.0,
				float32(img.Pix[i+2]) / 255.0,
			}
		}
		t[y] = row
	}
	return t
}

// ChannelCount reports how many channels the decoded image carries.
func ChannelCount(img image.Image) int {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16, *image.Alpha, *image.Alpha16:
		return 1
	case *image.YCbCr:
		return 3
	case *image.NYCbCrA, *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.CMYK:
		return 4
	case *image.Paletted:
		return paletteChannels(m.Palette)
	}

	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	case color.YCbCrModel:
		return 3
	}
	return 4
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngChannels reads the channel count from the PNG IHDR color type. The
// decoder widens gray+alpha to NRGBA, so the header is the only place the
// layout survives. ok is false for other formats and for palette images.
func pngChannels(data []byte) (int, bool) {
	if len(data) < 26 || !bytes.HasPrefix(data, pngSignature) || string(data[12:16]) != "IHDR" {
		return 0, false
	}
	switch data[25] {
	case 0:
		return 1, true
	case 2:
		return 3, true
	case 4:
		return 2, true
	case 6:
		return 4, true
	}
	return 0, false
}

func paletteChannels(p color.Palette) int {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return 4
		}
	}
	return 3
}
