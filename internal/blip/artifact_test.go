package blip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveArtifact(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "Salesforce", "blip-image-captioning-base")
	writeFile(t, filepath.Join(dir, "config.json"), "{}")
	writeFile(t, filepath.Join(dir, "vocab.txt"), "[PAD]\n")
	writeFile(t, filepath.Join(dir, "onnx", "vision_model.onnx"), "x")
	writeFile(t, filepath.Join(dir, "decoder_model.onnx"), "x")

	files, err := ResolveArtifact(root, ArtifactID)
	if err != nil {
		t.Fatalf("ResolveArtifact() error: %v", err)
	}
	if files.Dir != dir {
		t.Errorf("Dir = %q, want %q", files.Dir, dir)
	}
	if files.EncoderPath != filepath.Join(dir, "onnx", "vision_model.onnx") {
		t.Errorf("EncoderPath = %q", files.EncoderPath)
	}
	if files.DecoderPath != filepath.Join(dir, "decoder_model.onnx") {
		t.Errorf("DecoderPath = %q", files.DecoderPath)
	}
	if files.PreprocessorPath != "" {
		t.Errorf("PreprocessorPath = %q, want empty", files.PreprocessorPath)
	}
}

func TestResolveArtifactMissing(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	if _, err := ResolveArtifact(root, ArtifactID); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("missing dir: err = %v, want ErrArtifactNotFound", err)
	}

	dir := filepath.Join(root, filepath.FromSlash(ArtifactID))
	writeFile(t, filepath.Join(dir, "config.json"), "{}")
	writeFile(t, filepath.Join(dir, "vocab.txt"), "[PAD]\n")
	writeFile(t, filepath.Join(dir, "vision_model.onnx"), "x")

	_, err := ResolveArtifact(root, ArtifactID)
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("missing decoder: err = %v, want ErrArtifactNotFound", err)
	}
}

func TestFindFilePrefersEarlierCandidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "encoder_model.onnx"), "x")
	writeFile(t, filepath.Join(dir, "vision_model.onnx"), "x")

	if got := FindFile(dir, encoderCandidates); got != filepath.Join(dir, "vision_model.onnx") {
		t.Fatalf("FindFile() = %q", got)
	}
	if got := FindFile(dir, []string{"nope.onnx"}); got != "" {
		t.Fatalf("FindFile() = %q, want empty", got)
	}
}

func TestLoaderFailsBeforeRuntimeWhenArtifactMissing(t *testing.T) {
	t.Parallel()
	l := &Loader{Root: t.TempDir()}

	c, err := l.Load(context.Background(), ArtifactID)
	if c != nil {
		t.Fatal("expected no captioner")
	}
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("err = %v, want ErrArtifactNotFound", err)
	}
}
