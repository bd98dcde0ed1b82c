package classify

import (
	"errors"
	"testing"
)

type fakeTensor struct {
	data      []float32
	destroyed int
}

func (f *fakeTensor) Destroy() error {
	f.destroyed++
	return nil
}

func tensorFactory(t *fakeTensor, err error) func() (*fakeTensor, error) {
	return func() (*fakeTensor, error) {
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func readTensor(t *fakeTensor) []float32 { return t.data }

func TestRunWithTensorsCopiesOutput(t *testing.T) {
	in, out := &fakeTensor{}, &fakeTensor{data: []float32{0.1, 0.9}}

	got, err := runWithTensors(tensorFactory(in, nil), tensorFactory(out, nil),
		func(*fakeTensor, *fakeTensor) error { return nil }, readTensor)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if in.destroyed != 1 || out.destroyed != 1 {
		t.Fatalf("expected both tensors destroyed once, got in=%d out=%d", in.destroyed, out.destroyed)
	}

	out.data[0] = 42
	if got[0] != 0.1 {
		t.Fatalf("result aliases the output tensor: %v", got)
	}
}

func TestRunWithTensorsDestroysOnRunError(t *testing.T) {
	in, out := &fakeTensor{}, &fakeTensor{}
	runErr := errors.New("session run failed")

	_, err := runWithTensors(tensorFactory(in, nil), tensorFactory(out, nil),
		func(*fakeTensor, *fakeTensor) error { return runErr }, readTensor)
	if !errors.Is(err, runErr) {
		t.Fatalf("expected run error, got %v", err)
	}
	if in.destroyed != 1 || out.destroyed != 1 {
		t.Fatalf("expected both tensors destroyed once, got in=%d out=%d", in.destroyed, out.destroyed)
	}
}

func TestRunWithTensorsDestroysInputWhenOutputFails(t *testing.T) {
	in := &fakeTensor{}
	allocErr := errors.New("out of memory")
	ran := false

	_, err := runWithTensors(tensorFactory(in, nil), tensorFactory(nil, allocErr),
		func(*fakeTensor, *fakeTensor) error { ran = true; return nil }, readTensor)
	if !errors.Is(err, allocErr) {
		t.Fatalf("expected output allocation error, got %v", err)
	}
	if ran {
		t.Fatalf("run called without an output tensor")
	}
	if in.destroyed != 1 {
		t.Fatalf("expected input destroyed once, got %d", in.destroyed)
	}
}

func TestRunWithTensorsInputFailure(t *testing.T) {
	allocErr := errors.New("bad shape")
	outputCreated := false

	_, err := runWithTensors(tensorFactory(nil, allocErr),
		func() (*fakeTensor, error) { outputCreated = true; return &fakeTensor{}, nil },
		func(*fakeTensor, *fakeTensor) error { return nil }, readTensor)
	if !errors.Is(err, allocErr) || outputCreated {
		t.Fatalf("expected early input failure, got err=%v outputCreated=%v", err, outputCreated)
	}
}
