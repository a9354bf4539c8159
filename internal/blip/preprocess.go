package blip

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// ImageProcessor converts an image into the encoder's CHW float32 input.
type ImageProcessor struct {
	Config ImageConfig
}

func NewImageProcessor(cfg ImageConfig) *ImageProcessor {
	return &ImageProcessor{Config: cfg}
}

// Process resizes to Width x Height with bicubic resampling, drops alpha,
// rescales and normalizes per channel.
func (p *ImageProcessor) Process(img image.Image) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("image has no pixels: %dx%d", b.Dx(), b.Dy())
	}

	cfg := p.Config
	resized := resize.Resize(uint(cfg.Width), uint(cfg.Height), img, resize.Bicubic)
	rb := resized.Bounds()

	plane := cfg.Width * cfg.Height
	pixels := make([]float32, cfg.Channels*plane)

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			c := color.NRGBAModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.NRGBA)
			idx := y*cfg.Width + x
			pixels[idx] = p.normalize(c.R, 0)
			pixels[plane+idx] = p.normalize(c.G, 1)
			pixels[2*plane+idx] = p.normalize(c.B, 2)
		}
	}
	return pixels, nil
}

func (p *ImageProcessor) normalize(v uint8, channel int) float32 {
	out := float32(v)
	if p.Config.DoRescale {
		out *= p.Config.RescaleFactor
	}
	if p.Config.DoNormalize {
		out = (out - p.Config.Mean[channel]) / p.Config.Std[channel]
	}
	return out
}
