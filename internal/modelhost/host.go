package modelhost

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SYED-TAHER/mobile-dev/internal/logger"
	"github.com/SYED-TAHER/mobile-dev/internal/metrics"
)

// ErrNotLoaded is returned by Describe before a successful EnsureLoaded.
var ErrNotLoaded = errors.New("model is not loaded")

// Captioner is a fully constructed model plus its preprocessor and decoder.
type Captioner interface {
	Caption(ctx context.Context, img image.Image) (string, error)
	Close() error
}

// Loader constructs the artifact named by artifactID.
type Loader interface {
	Load(ctx context.Context, artifactID string) (Captioner, error)
}

type LoaderFunc func(ctx context.Context, artifactID string) (Captioner, error)

func (f LoaderFunc) Load(ctx context.Context, artifactID string) (Captioner, error) {
	return f(ctx, artifactID)
}

// ModelLoadError reports a failed artifact construction.
type ModelLoadError struct {
	ArtifactID string
	Err        error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.ArtifactID, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError reports a failure while captioning a loaded model.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

type loaded struct {
	captioner Captioner
}

// Host owns the lazily loaded captioner. The artifact is constructed at
// most once; a failed attempt leaves the host unloaded so the next
// EnsureLoaded retries. Describe calls are serialized.
type Host struct {
	artifactID string
	loader     Loader
	logger     logger.Logger

	group  singleflight.Group
	model  atomic.Pointer[loaded]
	loads  atomic.Int64
	infer  sync.Mutex
	closed atomic.Bool
}

func New(artifactID string, loader Loader, log logger.Logger) *Host {
	return &Host{
		artifactID: artifactID,
		loader:     loader,
		logger:     log.With("artifact", artifactID),
	}
}

// EnsureLoaded loads the artifact on first use. Callers arriving after a
// successful load return without locking; concurrent first callers share a
// single load.
func (h *Host) EnsureLoaded(ctx context.Context) error {
	if h.model.Load() != nil {
		return nil
	}
	if h.closed.Load() {
		return &ModelLoadError{ArtifactID: h.artifactID, Err: errors.New("host is closed")}
	}

	// The load outlives the request that triggered it.
	loadCtx := context.WithoutCancel(ctx)
	_, err, shared := h.group.Do(h.artifactID, func() (any, error) {
		if h.model.Load() != nil {
			return nil, nil
		}
		c, err := h.load(loadCtx)
		if err != nil {
			return nil, err
		}
		if h.closed.Load() {
			_ = c.Close()
			return nil, &ModelLoadError{ArtifactID: h.artifactID, Err: errors.New("host is closed")}
		}
		h.model.Store(&loaded{captioner: c})
		return nil, nil
	})
	if err != nil {
		if shared {
			h.logger.Debug("joined failed model load")
		}
		return err
	}
	return nil
}

func (h *Host) load(ctx context.Context) (c Captioner, err error) {
	h.loads.Add(1)
	h.logger.Info("loading model")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("panic in loader: %v", r)
		}
		if err == nil && c == nil {
			err = errors.New("loader returned no model")
		}
		if err != nil {
			err = &ModelLoadError{ArtifactID: h.artifactID, Err: err}
			h.logger.Error("model load failed", "error", err, "duration", time.Since(start))
		} else {
			h.logger.Info("model loaded", "duration", time.Since(start))
		}
		metrics.ModelLoad(metrics.Status(err))
		metrics.StageDuration("load", metrics.Status(err), time.Since(start))
	}()

	return h.loader.Load(logger.WithContext(ctx, h.logger), h.artifactID)
}

// Describe captions img. It requires a prior successful EnsureLoaded.
// Only one caption runs at a time.
func (h *Host) Describe(ctx context.Context, img image.Image) (caption string, err error) {
	m := h.model.Load()
	if m == nil {
		return "", &InferenceError{Err: ErrNotLoaded}
	}

	h.infer.Lock()
	defer h.infer.Unlock()

	// Close may have released the model while we waited.
	if m = h.model.Load(); m == nil {
		return "", &InferenceError{Err: ErrNotLoaded}
	}
	if err := ctx.Err(); err != nil {
		return "", &InferenceError{Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			caption, err = "", &InferenceError{Err: fmt.Errorf("panic in captioner: %v", r)}
		}
	}()

	caption, err = m.captioner.Caption(ctx, img)
	if err != nil {
		return "", &InferenceError{Err: err}
	}
	return caption, nil
}

// Loaded reports whether the artifact has been constructed.
func (h *Host) Loaded() bool {
	return h.model.Load() != nil
}

// Loads returns how many times the loader has been invoked.
func (h *Host) Loads() int64 {
	return h.loads.Load()
}

// Close releases the loaded artifact after any in-flight Describe finishes.
func (h *Host) Close() error {
	h.closed.Store(true)

	h.infer.Lock()
	defer h.infer.Unlock()

	m := h.model.Swap(nil)
	if m == nil {
		return nil
	}
	return m.captioner.Close()
}
