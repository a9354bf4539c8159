package blip

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// Defaults of Salesforce/blip-image-captioning-base, used when a field is
// absent from the exported configs.
const (
	defaultImageSize  = 384
	defaultPatchSize  = 16
	defaultHidden     = 768
	defaultVocabSize  = 30524
	defaultBOSTokenID = 30522
	defaultSEPTokenID = 102
	defaultMaxLength  = 20
)

var (
	defaultMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	defaultStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ImageConfig describes how pixels become the encoder input.
type ImageConfig struct {
	Width         int
	Height        int
	Channels      int
	Mean          [3]float32
	Std           [3]float32
	RescaleFactor float32
	DoRescale     bool
	DoNormalize   bool
}

// GenerationConfig bounds greedy decoding.
type GenerationConfig struct {
	BOSTokenID int64
	EOSTokenID int64
	PadTokenID int64
	MaxLength  int
}

// ModelConfig is what the captioner needs from config.json and
// preprocessor_config.json.
type ModelConfig struct {
	Image      ImageConfig
	Generation GenerationConfig
	VocabSize  int64

	// Encoder output is [1, EncoderSeqLen, EncoderHidden].
	EncoderSeqLen int64
	EncoderHidden int64
}

type rawModelConfig struct {
	TextConfig struct {
		VocabSize  int    `json:"vocab_size"`
		BOSTokenID *int64 `json:"bos_token_id"`
		SEPTokenID *int64 `json:"sep_token_id"`
		PadTokenID int64  `json:"pad_token_id"`
		MaxLength  int    `json:"max_length"`
	} `json:"text_config"`
	VisionConfig struct {
		ImageSize  int `json:"image_size"`
		PatchSize  int `json:"patch_size"`
		HiddenSize int `json:"hidden_size"`
	} `json:"vision_config"`
}

type rawPreprocessorConfig struct {
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	RescaleFactor float32   `json:"rescale_factor"`
	DoRescale     *bool     `json:"do_rescale"`
	DoNormalize   *bool     `json:"do_normalize"`
	Size          any       `json:"size"`
}

// LoadModelConfig reads config.json and, if present, preprocessor_config.json.
func LoadModelConfig(configPath, preprocessorPath string) (*ModelConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config.json: %w", err)
	}
	var raw rawModelConfig
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config.json: %w", err)
	}

	var preproc *rawPreprocessorConfig
	if preprocessorPath != "" {
		data, err := os.ReadFile(preprocessorPath)
		if err != nil {
			return nil, fmt.Errorf("reading preprocessor_config.json: %w", err)
		}
		preproc = &rawPreprocessorConfig{}
		if err := sonic.Unmarshal(data, preproc); err != nil {
			return nil, fmt.Errorf("parsing preprocessor_config.json: %w", err)
		}
	}

	return buildModelConfig(&raw, preproc), nil
}

func buildModelConfig(raw *rawModelConfig, preproc *rawPreprocessorConfig) *ModelConfig {
	imageSize := firstNonZero(raw.VisionConfig.ImageSize, defaultImageSize)
	patchSize := firstNonZero(raw.VisionConfig.PatchSize, defaultPatchSize)
	patches := imageSize / patchSize

	image := ImageConfig{
		Width:         imageSize,
		Height:        imageSize,
		Channels:      3,
		Mean:          defaultMean,
		Std:           defaultStd,
		RescaleFactor: 1.0 / 255.0,
		DoRescale:     true,
		DoNormalize:   true,
	}
	if preproc != nil {
		if len(preproc.ImageMean) == 3 {
			copy(image.Mean[:], preproc.ImageMean)
		}
		if len(preproc.ImageStd) == 3 {
			copy(image.Std[:], preproc.ImageStd)
		}
		if preproc.RescaleFactor > 0 {
			image.RescaleFactor = preproc.RescaleFactor
		}
		if preproc.DoRescale != nil {
			image.DoRescale = *preproc.DoRescale
		}
		if preproc.DoNormalize != nil {
			image.DoNormalize = *preproc.DoNormalize
		}
		if w, h := extractSize(preproc.Size); w > 0 && h > 0 {
			image.Width, image.Height = w, h
		}
	}

	gen := GenerationConfig{
		BOSTokenID: defaultBOSTokenID,
		EOSTokenID: defaultSEPTokenID,
		PadTokenID: raw.TextConfig.PadTokenID,
		MaxLength:  firstNonZero(raw.TextConfig.MaxLength, defaultMaxLength),
	}
	if raw.TextConfig.BOSTokenID != nil {
		gen.BOSTokenID = *raw.TextConfig.BOSTokenID
	}
	// BLIP ends captions on [SEP], not on the text config's eos_token_id.
	if raw.TextConfig.SEPTokenID != nil {
		gen.EOSTokenID = *raw.TextConfig.SEPTokenID
	}

	return &ModelConfig{
		Image:         image,
		Generation:    gen,
		VocabSize:     int64(firstNonZero(raw.TextConfig.VocabSize, defaultVocabSize)),
		EncoderSeqLen: int64(patches*patches + 1),
		EncoderHidden: int64(firstNonZero(raw.VisionConfig.HiddenSize, defaultHidden)),
	}
}

// extractSize handles {"height": H, "width": W}, {"shortest_edge": N} and N.
func extractSize(v any) (int, int) {
	switch val := v.(type) {
	case float64:
		return int(val), int(val)
	case int:
		return val, val
	case map[string]any:
		h, hok := val["height"].(float64)
		w, wok := val["width"].(float64)
		if hok && wok {
			return int(w), int(h)
		}
		if se, ok := val["shortest_edge"].(float64); ok {
			return int(se), int(se)
		}
	}
	return 0, 0
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
