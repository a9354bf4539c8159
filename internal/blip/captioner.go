package blip

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/SYED-TAHER/mobile-dev/internal/logger"
	"github.com/SYED-TAHER/mobile-dev/internal/metrics"
)

// EncoderOutput holds the vision tower's hidden states, shape [1, seq, hidden].
type EncoderOutput struct {
	HiddenStates []float32
	Shape        [3]int64
}

// VisionEncoder runs the image tower on preprocessed CHW pixels.
type VisionEncoder interface {
	Encode(pixels []float32, cfg ImageConfig) (*EncoderOutput, error)
	Close() error
}

// TextDecoder returns the next-token logits for the last position of ids.
type TextDecoder interface {
	NextLogits(ids []int64, enc *EncoderOutput) ([]float32, error)
	Close() error
}

// Captioner is a loaded artifact: preprocessor, encoder, decoder and
// vocabulary from the same directory. It is not safe for concurrent use.
type Captioner struct {
	processor  *ImageProcessor
	encoder    VisionEncoder
	decoder    TextDecoder
	vocab      *Vocabulary
	generation GenerationConfig
	release    func() error
}

func NewCaptioner(cfg *ModelConfig, vocab *Vocabulary, encoder VisionEncoder, decoder TextDecoder) *Captioner {
	return &Captioner{
		processor:  NewImageProcessor(cfg.Image),
		encoder:    encoder,
		decoder:    decoder,
		vocab:      vocab,
		generation: cfg.Generation,
	}
}

// Caption preprocesses img, encodes it and greedily decodes a caption.
func (c *Captioner) Caption(ctx context.Context, img image.Image) (string, error) {
	log := logger.FromContext(ctx)

	log.Info("preprocessing image")
	start := time.Now()
	pixels, err := c.processor.Process(img)
	metrics.StageDuration("preprocess", metrics.Status(err), time.Since(start))
	if err != nil {
		return "", fmt.Errorf("preprocessing image: %w", err)
	}

	start = time.Now()
	enc, err := c.encoder.Encode(pixels, c.processor.Config)
	metrics.StageDuration("encode", metrics.Status(err), time.Since(start))
	if err != nil {
		return "", fmt.Errorf("encoding image: %w", err)
	}

	log.Info("generating caption", "max_length", c.generation.MaxLength)
	start = time.Now()
	ids, err := c.Generate(ctx, enc)
	metrics.StageDuration("generate", metrics.Status(err), time.Since(start))
	if err != nil {
		return "", fmt.Errorf("generating caption: %w", err)
	}

	text := c.vocab.Decode(ids)
	log.Debug("decoded tokens", "tokens", len(ids))
	return text, nil
}

// Generate runs greedy decoding from the BOS token until the EOS token or
// MaxLength tokens (prompt included).
func (c *Captioner) Generate(ctx context.Context, enc *EncoderOutput) ([]int64, error) {
	ids := []int64{c.generation.BOSTokenID}
	for len(ids) < c.generation.MaxLength {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := c.decoder.NextLogits(ids, enc)
		if err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", len(ids), err)
		}
		if len(logits) == 0 {
			return nil, fmt.Errorf("decoder step %d: empty logits", len(ids))
		}
		next := argmax(logits)
		ids = append(ids, next)
		if next == c.generation.EOSTokenID {
			break
		}
	}
	return ids, nil
}

func (c *Captioner) Close() error {
	var errs []error
	if c.encoder != nil {
		if err := c.encoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing encoder: %w", err))
		}
		c.encoder = nil
	}
	if c.decoder != nil {
		if err := c.decoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing decoder: %w", err))
		}
		c.decoder = nil
	}
	if c.release != nil {
		if err := c.release(); err != nil {
			errs = append(errs, err)
		}
		c.release = nil
	}
	return errors.Join(errs...)
}

func argmax(values []float32) int64 {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return int64(best)
}
