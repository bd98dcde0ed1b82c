package classify

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the ONNX Runtime shared library once per process.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// ORTConfig says which model to open and how to feed it.
type ORTConfig struct {
	ModelPath      string
	InputName      string
	OutputName     string
	Input          InputSpec
	IntraOpThreads int
}

// ModelIO is what the runner learned about the model's inputs and outputs.
type ModelIO struct {
	InputName   string
	OutputName  string
	OutputShape []int64
}

// OutputSize is the element count of one output vector.
func (m ModelIO) OutputSize() int {
	n := 1
	for _, d := range m.OutputShape {
		n *= int(d)
	}
	return n
}

// InspectModel reads tensor names and the output shape from the model file.
// Names already set in cfg win over the first input/output of the model.
// Dynamic dimensions are pinned to 1 since every run carries one image.
func InspectModel(cfg ORTConfig) (ModelIO, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return ModelIO{}, fmt.Errorf("failed to read model io: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return ModelIO{}, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}

	io := ModelIO{InputName: cfg.InputName, OutputName: cfg.OutputName}
	if io.InputName == "" {
		io.InputName = inputs[0].Name
	}
	if io.OutputName == "" {
		io.OutputName = outputs[0].Name
	}

	var output *ort.InputOutputInfo
	for i := range outputs {
		if outputs[i].Name == io.OutputName {
			output = &outputs[i]
			break
		}
	}
	if output == nil {
		return ModelIO{}, fmt.Errorf("model has no output named %q", io.OutputName)
	}

	io.OutputShape = make([]int64, len(output.Dimensions))
	for i, d := range output.Dimensions {
		if d <= 0 {
			d = 1
		}
		io.OutputShape[i] = d
	}

	return io, nil
}

type ortRunner struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
}

// NewORTRunnerFactory inspects the model once and returns a factory that opens
// a fresh runtime session per call.
func NewORTRunnerFactory(cfg ORTConfig) (RunnerFactory, ModelIO, error) {
	io, err := InspectModel(cfg)
	if err != nil {
		return nil, ModelIO{}, err
	}

	threads := cfg.IntraOpThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	factory := func() (Runner, error) {
		options, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("error creating session options: %w", err)
		}
		defer options.Destroy()

		options.SetIntraOpNumThreads(threads)
		options.SetInterOpNumThreads(1)

		session, err := ort.NewDynamicAdvancedSession(
			cfg.ModelPath,
			[]string{io.InputName},
			[]string{io.OutputName},
			options,
		)
		if err != nil {
			return nil, fmt.Errorf("error creating session: %w", err)
		}

		return &ortRunner{
			session:     session,
			inputShape:  ort.NewShape(cfg.Input.Shape()...),
			outputShape: ort.NewShape(io.OutputShape...),
		}, nil
	}

	return factory, io, nil
}

// Run allocates the input and output tensors for this call only; both are
// destroyed before Run returns on every path.
func (r *ortRunner) Run(input []float32) ([]float32, error) {
	return runWithTensors(
		func() (*ort.Tensor[float32], error) { return ort.NewTensor(r.inputShape, input) },
		func() (*ort.Tensor[float32], error) { return ort.NewEmptyTensor[float32](r.outputShape) },
		func(in, out *ort.Tensor[float32]) error {
			return r.session.Run([]ort.ArbitraryTensor{in}, []ort.ArbitraryTensor{out})
		},
		func(out *ort.Tensor[float32]) []float32 { return out.GetData() },
	)
}

type destroyable interface {
	Destroy() error
}

// runWithTensors creates the input and output tensors, runs, and copies the
// output out before both tensors are destroyed. Every tensor that was created
// is destroyed on every return path.
func runWithTensors[I, O destroyable](
	newInput func() (I, error),
	newOutput func() (O, error),
	run func(I, O) error,
	read func(O) []float32,
) ([]float32, error) {
	inputTensor, err := newInput()
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := newOutput()
	if err != nil {
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := run(inputTensor, outputTensor); err != nil {
		return nil, err
	}

	data := read(outputTensor)
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (r *ortRunner) Destroy() {
	if r.session != nil {
		r.session.Destroy()
	}
}
