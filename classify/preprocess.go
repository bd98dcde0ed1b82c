package classify

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"strings"
	"sync"
)

// Layout is the memory order of the model input tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutNHWC:
		return LayoutNHWC, nil
	case LayoutNCHW:
		return LayoutNCHW, nil
	default:
		return "", fmt.Errorf("unknown input layout %q", s)
	}
}

// InputSpec describes the spatial size and layout the model expects.
type InputSpec struct {
	Width  int
	Height int
	Layout Layout
}

func DefaultInputSpec() InputSpec {
	return InputSpec{
		Width:  DefaultInputWidth,
		Height: DefaultInputHeight,
		Layout: LayoutNHWC,
	}
}

func (s InputSpec) Size() int {
	return s.Width * s.Height * Channels
}

// Shape is the batched tensor shape for a single image.
func (s InputSpec) Shape() []int64 {
	if s.Layout == LayoutNCHW {
		return []int64{1, Channels, int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), Channels}
}

// Buffer holds one preprocessed image. Hand it back with Preprocessor.Release.
type Buffer struct {
	Data []float32
}

// Preprocessor turns a resized image into normalized float32 channels.
type Preprocessor struct {
	spec       InputSpec
	numWorkers int
	bufferPool *sync.Pool
}

func NewPreprocessor(spec InputSpec) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	if workers > spec.Height {
		workers = spec.Height
	}
	if workers < 1 {
		workers = 1
	}

	return &Preprocessor{
		spec:       spec,
		numWorkers: workers,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return &Buffer{Data: make([]float32, spec.Size())}
			},
		},
	}
}

// Process writes every channel of img as value/255 in the configured layout.
// img must already be Width x Height.
func (p *Preprocessor) Process(img image.Image) (*Buffer, error) {
	b := img.Bounds()
	if b.Dx() != p.spec.Width || b.Dy() != p.spec.Height {
		return nil, fmt.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), p.spec.Width, p.spec.Height)
	}

	buf := p.bufferPool.Get().(*Buffer)
	p.processParallel(img, buf.Data)
	return buf, nil
}

func (p *Preprocessor) Release(buf *Buffer) {
	if buf != nil {
		p.bufferPool.Put(buf)
	}
}

func (p *Preprocessor) processParallel(img image.Image, buffer []float32) {
	rowsPerWorker := p.spec.Height / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			endRow = p.spec.Height
		}

		go func(start, end int) {
			defer wg.Done()
			p.processRows(img, buffer, start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}

func (p *Preprocessor) processRows(img image.Image, buffer []float32, start, end int) {
	width := p.spec.Width
	plane := width * p.spec.Height
	origin := img.Bounds().Min
	nrgba, _ := img.(*image.NRGBA)

	for y := start; y < end; y++ {
		for x := 0; x < width; x++ {
			var r, g, b uint8
			if nrgba != nil {
				o := nrgba.PixOffset(origin.X+x, origin.Y+y)
				r, g, b = nrgba.Pix[o], nrgba.Pix[o+1], nrgba.Pix[o+2]
			} else {
				c := color.NRGBAModel.Convert(img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
				r, g, b = c.R, c.G, c.B
			}

			i := y*width + x
			if p.spec.Layout == LayoutNCHW {
				buffer[i] = float32(r) / 255.0
				buffer[plane+i] = float32(g) / 255.0
				buffer[plane*2+i] = float32(b) / 255.0
				continue
			}
			buffer[i*3] = float32(r) / 255.0
			buffer[i*3+1] = float32(g) / 255.0
			buffer[i*3+2] = float32(b) / 255.0
		}
	}
}
