package blip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactID names the pretrained captioning model. It is fixed at build time.
const ArtifactID = "Salesforce/blip-image-captioning-base"

var ErrArtifactNotFound = errors.New("artifact not found")

var (
	encoderCandidates = []string{
		"vision_model.onnx",
		"vision_encoder.onnx",
		"encoder_model.onnx",
		"onnx/vision_model.onnx",
		"onnx/encoder_model.onnx",
	}
	decoderCandidates = []string{
		"text_decoder_model.onnx",
		"decoder_model.onnx",
		"onnx/text_decoder_model.onnx",
		"onnx/decoder_model.onnx",
	}
)

// ArtifactFiles are the on-disk pieces of one exported artifact.
type ArtifactFiles struct {
	Dir              string
	ConfigPath       string
	PreprocessorPath string
	VocabPath        string
	EncoderPath      string
	DecoderPath      string
}

// ResolveArtifact locates the artifact under root. The directory is
// root/<artifactID> with the ID's slashes as path separators.
func ResolveArtifact(root, artifactID string) (*ArtifactFiles, error) {
	dir := filepath.Join(root, filepath.FromSlash(artifactID))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s not found in %s", ErrArtifactNotFound, artifactID, root)
	}

	files := &ArtifactFiles{
		Dir:              dir,
		ConfigPath:       FindFile(dir, []string{"config.json"}),
		PreprocessorPath: FindFile(dir, []string{"preprocessor_config.json"}),
		VocabPath:        FindFile(dir, []string{"vocab.txt"}),
		EncoderPath:      FindFile(dir, encoderCandidates),
		DecoderPath:      FindFile(dir, decoderCandidates),
	}

	required := []struct{ name, path string }{
		{"config.json", files.ConfigPath},
		{"vocab.txt", files.VocabPath},
		{"vision encoder", files.EncoderPath},
		{"text decoder", files.DecoderPath},
	}
	for _, r := range required {
		if r.path == "" {
			return nil, fmt.Errorf("%w: %s has no %s", ErrArtifactNotFound, dir, r.name)
		}
	}
	return files, nil
}

// FindFile returns the first candidate that exists under dir, or "".
func FindFile(dir string, candidates []string) string {
	for _, name := range candidates {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
