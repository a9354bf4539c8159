package blip

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var runtimeMu sync.Mutex

// initRuntime initializes the process-wide ONNX Runtime environment once.
func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func destroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX environment: %w", err)
	}
	return nil
}

func newSessionOptions(intraOpThreads int) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if intraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(intraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	return opts, nil
}

type ortEncoder struct {
	session   *ort.DynamicAdvancedSession
	seqLen    int64
	hidden    int64
	inputName string
}

func newORTEncoder(path string, cfg *ModelConfig, opts *ort.SessionOptions) (*ortEncoder, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect encoder %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("encoder %s has no inputs or outputs", path)
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder session: %w", err)
	}

	return &ortEncoder{
		session:   session,
		seqLen:    cfg.EncoderSeqLen,
		hidden:    cfg.EncoderHidden,
		inputName: inputs[0].Name,
	}, nil
}

func (e *ortEncoder) Encode(pixels []float32, cfg ImageConfig) (*EncoderOutput, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Channels), int64(cfg.Height), int64(cfg.Width)), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tensor: %w", e.inputName, err)
	}
	defer input.Destroy()

	shape := [3]int64{1, e.seqLen, e.hidden}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(shape[:]...))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("encoder run failed: %w", err)
	}

	hidden := make([]float32, len(output.GetData()))
	copy(hidden, output.GetData())
	return &EncoderOutput{HiddenStates: hidden, Shape: shape}, nil
}

func (e *ortEncoder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

const (
	inputIDs             = "input_ids"
	attentionMask        = "attention_mask"
	encoderHiddenStates  = "encoder_hidden_states"
	encoderAttentionMask = "encoder_attention_mask"
)

// ortDecoder runs a text decoder exported without a KV cache: every step
// feeds the whole prefix.
type ortDecoder struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	vocabSize  int64
}

func newORTDecoder(path string, cfg *ModelConfig, opts *ort.SessionOptions) (*ortDecoder, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect decoder %s: %w", path, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("decoder %s has no outputs", path)
	}

	names := make([]string, 0, len(inputs))
	hasIDs, hasHidden := false, false
	for _, info := range inputs {
		switch info.Name {
		case inputIDs:
			hasIDs = true
		case encoderHiddenStates:
			hasHidden = true
		case attentionMask, encoderAttentionMask:
		default:
			return nil, fmt.Errorf("decoder input %q is not supported; export the decoder without past key values", info.Name)
		}
		names = append(names, info.Name)
	}
	if !hasIDs || !hasHidden {
		return nil, fmt.Errorf("decoder %s must take %s and %s", path, inputIDs, encoderHiddenStates)
	}

	session, err := ort.NewDynamicAdvancedSession(path, names, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder session: %w", err)
	}

	return &ortDecoder{
		session:    session,
		inputNames: names,
		vocabSize:  cfg.VocabSize,
	}, nil
}

func (d *ortDecoder) NextLogits(ids []int64, enc *EncoderOutput) ([]float32, error) {
	seqLen := int64(len(ids))

	var (
		tensors []ort.ArbitraryTensor
		err     error
	)
	defer func() {
		for _, t := range tensors {
			t.Destroy()
		}
	}()

	for _, name := range d.inputNames {
		switch name {
		case inputIDs:
			tensors, err = appendTensor(tensors, ort.NewShape(1, seqLen), ids)
		case attentionMask:
			tensors, err = appendTensor(tensors, ort.NewShape(1, seqLen), ones(seqLen))
		case encoderHiddenStates:
			tensors, err = appendTensor(tensors, ort.NewShape(enc.Shape[:]...), enc.HiddenStates)
		case encoderAttentionMask:
			tensors, err = appendTensor(tensors, ort.NewShape(1, enc.Shape[1]), ones(enc.Shape[1]))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
	}

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, d.vocabSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}
	defer logits.Destroy()

	if err := d.session.Run(tensors, []ort.ArbitraryTensor{logits}); err != nil {
		return nil, fmt.Errorf("decoder run failed: %w", err)
	}

	data := logits.GetData()
	last := make([]float32, d.vocabSize)
	copy(last, data[(seqLen-1)*d.vocabSize:])
	return last, nil
}

func (d *ortDecoder) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

func appendTensor[T ort.TensorData](dst []ort.ArbitraryTensor, shape ort.Shape, data []T) ([]ort.ArbitraryTensor, error) {
	t, err := ort.NewTensor(shape, data)
	if err != nil {
		return dst, err
	}
	return append(dst, t), nil
}

func ones(n int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
