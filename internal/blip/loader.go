package blip

import (
	"context"
	"fmt"

	"github.com/SYED-TAHER/mobile-dev/internal/logger"
)

// Loader builds a Captioner from an exported artifact under Root.
type Loader struct {
	Root           string
	RuntimeLibrary string
	IntraOpThreads int

	// MaxLength overrides the artifact's max_length when positive.
	MaxLength int
}

// Load opens every piece of the artifact or none of them: on failure all
// sessions opened so far are closed.
func (l *Loader) Load(ctx context.Context, artifactID string) (*Captioner, error) {
	log := logger.FromContext(ctx)

	files, err := ResolveArtifact(l.Root, artifactID)
	if err != nil {
		return nil, err
	}
	log.Info("resolved artifact", "dir", files.Dir, "encoder", files.EncoderPath, "decoder", files.DecoderPath)

	cfg, err := LoadModelConfig(files.ConfigPath, files.PreprocessorPath)
	if err != nil {
		return nil, err
	}
	if l.MaxLength > 0 {
		cfg.Generation.MaxLength = l.MaxLength
	}

	vocab, err := LoadVocabulary(files.VocabPath, cfg.Generation)
	if err != nil {
		return nil, err
	}

	if err := initRuntime(l.RuntimeLibrary); err != nil {
		return nil, err
	}

	opts, err := newSessionOptions(l.IntraOpThreads)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	encoder, err := newORTEncoder(files.EncoderPath, cfg, opts)
	if err != nil {
		return nil, err
	}

	decoder, err := newORTDecoder(files.DecoderPath, cfg, opts)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("loading decoder: %w", err)
	}

	captioner := NewCaptioner(cfg, vocab, encoder, decoder)
	captioner.release = destroyRuntime
	return captioner, nil
}
