// Package encoder runs transformer inference through ONNX Runtime.
package encoder

import (
	"context"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Config selects the graph file and its tensor names.
type Config struct {
	// ModelPath points at the model.onnx file.
	ModelPath string
	// InputIDsName is usually "input_ids".
	InputIDsName string
	// AttentionMaskName is usually "attention_mask".
	AttentionMaskName string
	// OutputName is usually "last_hidden_state" for raw token states or
	// "sentence_embedding" for graphs with a baked-in pooling head.
	OutputName string
}

// Encoder owns one ONNX Runtime session. Sessions are inference-only:
// training-time behavior such as dropout does not exist in the exported
// graph, so there is no mode to switch.
type Encoder struct {
	cfg           Config
	sess          *ort.DynamicAdvancedSession
	inputNames    []string
	hasTokenTypes bool
	pooledOutput  bool
	hiddenSize    int
	logger        *zap.Logger
}

// New inspects the graph, resolves input/output tensor names and the
// hidden size, and opens a session. The ONNX Runtime shared library is
// located via ONNXRUNTIME_SHARED_LIB or ORT_SHLIB.
func New(cfg Config, logger *zap.Logger) (*Encoder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("encoder: missing model path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	// Safe to call more than once per process.
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnxruntime environment: %w", err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", cfg.ModelPath, err)
	}
	for _, ii := range inputsInfo {
		logger.Debug("model input", zap.String("name", ii.Name), zap.Any("dims", ii.Dimensions))
	}
	for _, oi := range outputsInfo {
		logger.Debug("model output", zap.String("name", oi.Name), zap.Any("dims", oi.Dimensions))
	}

	inputNames, hasTokenTypes, err := resolveInputs(inputsInfo, cfg)
	if err != nil {
		return nil, err
	}

	outInfo, err := resolveOutput(outputsInfo, cfg.OutputName)
	if err != nil {
		return nil, err
	}
	pooled, hidden, err := outputShape(outInfo.Dimensions)
	if err != nil {
		return nil, err
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outInfo.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", cfg.ModelPath, err)
	}

	logger.Info("encoder ready",
		zap.String("model", cfg.ModelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outInfo.Name),
		zap.Int("hidden_size", hidden),
		zap.Bool("pooled_output", pooled))

	return &Encoder{
		cfg:           cfg,
		sess:          sess,
		inputNames:    inputNames,
		hasTokenTypes: hasTokenTypes,
		pooledOutput:  pooled,
		hiddenSize:    hidden,
		logger:        logger,
	}, nil
}

// resolveInputs orders the session inputs the way the graph declares
// them, preferring the conventional transformer names.
func resolveInputs(infos []ort.InputOutputInfo, cfg Config) ([]string, bool, error) {
	idsName := cfg.InputIDsName
	if idsName == "" {
		idsName = "input_ids"
	}
	maskName := cfg.AttentionMaskName
	if maskName == "" {
		maskName = "attention_mask"
	}

	available := make(map[string]bool, len(infos))
	for _, ii := range infos {
		available[ii.Name] = true
	}
	if !available[idsName] {
		return nil, false, fmt.Errorf("input %q not found in model", idsName)
	}
	if !available[maskName] {
		return nil, false, fmt.Errorf("input %q not found in model", maskName)
	}

	names := []string{idsName, maskName}
	hasTokenTypes := false
	for _, ii := range infos {
		if strings.Contains(strings.ToLower(ii.Name), "token_type") {
			names = append(names, ii.Name)
			hasTokenTypes = true
			break
		}
	}
	return names, hasTokenTypes, nil
}

func resolveOutput(infos []ort.InputOutputInfo, name string) (*ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("model declares no outputs")
	}
	if name == "" {
		return &infos[0], nil
	}
	for i := range infos {
		if infos[i].Name == name {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("output %q not found in model", name)
}

// outputShape classifies the output rank: 2 means the graph already
// pools to [B,H], 3 means raw token states [B,T,H].
func outputShape(dims ort.Shape) (pooled bool, hidden int, err error) {
	switch len(dims) {
	case 2:
		if dims[1] <= 0 {
			return false, 0, fmt.Errorf("cannot resolve hidden size from dims %v", dims)
		}
		return true, int(dims[1]), nil
	case 3:
		if dims[2] <= 0 {
			return false, 0, fmt.Errorf("cannot resolve hidden size from dims %v", dims)
		}
		return false, int(dims[2]), nil
	default:
		return false, 0, fmt.Errorf("unexpected output rank %d (dims %v), want 2 or 3", len(dims), dims)
	}
}

// HiddenSize reports the embedding dimensionality H.
func (e *Encoder) HiddenSize() int { return e.hiddenSize }

// PooledOutput reports whether the graph output is already [B,H].
func (e *Encoder) PooledOutput() bool { return e.pooledOutput }

// Forward runs one inference pass. ids and mask are [B][T]; the result
// is the flattened output buffer, [B*T*H] for raw token states or
// [B*H] when the graph pools internally.
func (e *Encoder) Forward(ctx context.Context, ids, mask [][]int64) ([]float32, error) {
	if e.sess == nil {
		return nil, fmt.Errorf("encoder closed")
	}
	if len(ids) == 0 || len(ids) != len(mask) {
		return nil, fmt.Errorf("mismatched batch: %d id rows, %d mask rows", len(ids), len(mask))
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	batch := len(ids)
	seqLen := len(ids[0])
	shape := ort.NewShape(int64(batch), int64(seqLen))

	idsTensor, err := ort.NewTensor(shape, flatten(ids))
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, flatten(mask))
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := []ort.Value{idsTensor, maskTensor}
	if e.hasTokenTypes {
		typeTensor, err := ort.NewTensor(shape, make([]int64, batch*seqLen))
		if err != nil {
			return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
		}
		defer typeTensor.Destroy()
		inputs = append(inputs, typeTensor)
	}

	var outTensor *ort.Tensor[float32]
	if e.pooledOutput {
		outTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), int64(e.hiddenSize)))
	} else {
		outTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), int64(seqLen), int64(e.hiddenSize)))
	}
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}
	defer outTensor.Destroy()

	if err := e.sess.Run(inputs, []ort.Value{outTensor}); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	data := outTensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Close releases the session and the runtime environment.
func (e *Encoder) Close() error {
	var err error
	if e.sess != nil {
		err = e.sess.Destroy()
		e.sess = nil
	}
	if envErr := ort.DestroyEnvironment(); envErr != nil && err == nil {
		err = envErr
	}
	return err
}

func flatten(rows [][]int64) []int64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]int64, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}
