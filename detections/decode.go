package detections

import (
	"fmt"
	"image"
	"math"
)

// Box is a corner-format box in model-input space.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Size is a width/height pair in pixels.
type Size struct {
	Width, Height float32
}

// CropRegion is a rectangle in original-frame pixel coordinates.
type CropRegion struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Scale multiplies the box by sx and sy. Models emitting normalized [0,1]
// coordinates need this before ToCropRegion.
func (b Box) Scale(sx, sy float32) Box {
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Empty reports a zero-area region. Callers must not OCR an empty region.
func (r CropRegion) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Rect returns the integer rectangle covered by the region.
func (r CropRegion) Rect() image.Rectangle {
	x0 := int(math.Floor(float64(r.X)))
	y0 := int(math.Floor(float64(r.Y)))
	x1 := int(math.Ceil(float64(r.X + r.Width)))
	y1 := int(math.Ceil(float64(r.Y + r.Height)))
	return image.Rect(x0, y0, x1, y1)
}

// DecodeBestBox scans a channel-major (cx, cy, w, h, conf) x numCandidates
// tensor and returns the highest-confidence box whose confidence is strictly
// above threshold. On equal confidence the lowest index wins.
//
// It panics when the tensor length is not NumChannels*numCandidates.
func DecodeBestBox(tensor []float32, numCandidates int, threshold float32) (Box, float32, bool) {
	checkTensor(tensor, numCandidates)

	n := numCandidates
	best := -1
	bestConf := threshold
	for i := 0; i < n; i++ {
		if conf := tensor[4*n+i]; conf > bestConf {
			bestConf = conf
			best = i
		}
	}
	if best < 0 {
		return Box{}, 0, false
	}
	return candidateBox(tensor, n, best), bestConf, true
}

// ToCropRegion maps a box from model-input space to the original frame,
// scaling each axis independently and clipping to the frame. A box with a
// NaN coordinate maps to the empty region.
func ToCropRegion(box Box, modelInput, frame Size) CropRegion {
	scaleX := frame.Width / modelInput.Width
	scaleY := frame.Height / modelInput.Height

	x1, y1 := box.X1*scaleX, box.Y1*scaleY
	bw, bh := (box.X2-box.X1)*scaleX, (box.Y2-box.Y1)*scaleY
	if isNaN(x1) || isNaN(y1) || isNaN(bw) || isNaN(bh) {
		return CropRegion{}
	}

	x := clamp(x1, 0, frame.Width)
	y := clamp(y1, 0, frame.Height)
	w := clamp(bw, 0, frame.Width-x)
	h := clamp(bh, 0, frame.Height-y)

	return CropRegion{X: x, Y: y, Width: w, Height: h}
}

func candidateBox(tensor []float32, n, i int) Box {
	cx := tensor[i]
	cy := tensor[n+i]
	w := tensor[2*n+i]
	h := tensor[3*n+i]
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

func checkTensor(tensor []float32, numCandidates int) {
	if numCandidates <= 0 || len(tensor) != NumChannels*numCandidates {
		panic(fmt.Sprintf("detections: tensor length %d does not match %d channels x %d candidates",
			len(tensor), NumChannels, numCandidates))
	}
}

func isNaN(v float32) bool {
	return v != v
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
