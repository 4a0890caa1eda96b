package detections

import (
	"sort"
)

type Detection struct {
	Box        Box
	Confidence float32
}

// DecodeAll returns every candidate strictly above threshold, ordered by
// descending confidence with ties kept in index order.
func DecodeAll(tensor []float32, numCandidates int, threshold float32) []Detection {
	checkTensor(tensor, numCandidates)

	n := numCandidates
	detections := make([]Detection, 0, 16)
	for i := 0; i < n; i++ {
		if conf := tensor[4*n+i]; conf > threshold {
			detections = append(detections, Detection{
				Box:        candidateBox(tensor, n, i),
				Confidence: conf,
			})
		}
	}

	sortDetectionsByConfidence(detections)
	return detections
}

// SuppressOverlaps keeps the strongest detection of every group whose IoU
// exceeds iouThreshold. Input must already be sorted by confidence.
func SuppressOverlaps(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) == 0 {
		return nil
	}

	kept := make([]Detection, 0, len(detections))
	suppressed := make([]bool, len(detections))
	for i, det := range detections {
		if suppressed[i] {
			continue
		}
		kept = append(kept, det)
		for j := i + 1; j < len(detections); j++ {
			if !suppressed[j] && calculateIOU(det.Box, detections[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func calculateIOU(box1, box2 Box) float64 {
	x1 := max(box1.X1, box2.X1)
	y1 := max(box1.Y1, box2.Y1)
	x2 := min(box1.X2, box2.X2)
	y2 := min(box1.Y2, box2.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := float64((x2 - x1) * (y2 - y1))
	area1 := float64((box1.X2 - box1.X1) * (box1.Y2 - box1.Y1))
	area2 := float64((box2.X2 - box2.X1) * (box2.Y2 - box2.Y1))
	union := area1 + area2 - intersection

	return intersection / union
}

func sortDetectionsByConfidence(detections []Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
