package detections

import (
	"errors"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sys/cpu"
)

// ErrEmptyImage is returned for frames without pixels, such as a JPEG that
// declares a zero width.
var ErrEmptyImage = errors.New("image has no pixels")

// Preprocessor turns a frame into the NCHW float input of the plate model.
// The frame is stretched to the square input, matching the independent
// per-axis scaling of ToCropRegion.
type Preprocessor struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, width*height*3)
				return &buf
			},
		},
	}
}

// Process resizes img and writes normalized channels into dst, which must
// hold 3*width*height values.
func (p *Preprocessor) Process(img image.Image, dst []float32) error {
	if img.Bounds().Empty() {
		return ErrEmptyImage
	}
	resized := imaging.Resize(img, p.width, p.height, imaging.Linear)
	if resized.Rect.Dx() != p.width || resized.Rect.Dy() != p.height {
		return ErrEmptyImage
	}

	bufPtr := p.bufferPool.Get().(*[]float32)
	defer p.bufferPool.Put(bufPtr)
	buffer := *bufPtr

	p.processParallel(resized, buffer)
	copy(dst, buffer)
	return nil
}

func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	channelSize := p.width * p.height
	workers := min(p.numWorkers, p.height)
	rowsPerWorker := p.height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride:]
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					px := src[x*4 : x*4+3]
					buffer[i] = float32(px[0]) / 255.0
					buffer[channelSize+i] = float32(px[1]) / 255.0
					buffer[channelSize*2+i] = float32(px[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// CPUFeatures reports the SIMD extensions onnxruntime can use on this host.
func CPUFeatures() map[string]bool {
	return map[string]bool{
		"avx512f": cpu.X86.HasAVX512F,
		"avx2":    cpu.X86.HasAVX2,
		"sse41":   cpu.X86.HasSSE41,
		"fma":     cpu.X86.HasFMA,
		"asimd":   cpu.ARM64.HasASIMD,
	}
}
