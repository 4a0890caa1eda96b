package detections

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelConfig describes the plate model's fixed tensor layout.
type ModelConfig struct {
	Path             string
	InputSize        int
	NumCandidates    int
	NormalizedOutput bool
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// InitEnvironment loads the onnxruntime shared library. It must be called
// once before NewModelSession.
func InitEnvironment(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func DestroyEnvironment() {
	ort.DestroyEnvironment()
}

func NewModelSession(cfg ModelConfig) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	size := int64(cfg.InputSize)
	inputShape := ort.NewShape(1, 3, size, size)
	outputShape := ort.NewShape(1, NumChannels, int64(cfg.NumCandidates))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.Path,
		[]string{InputTensorKey},
		[]string{OutputTensorKey},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
