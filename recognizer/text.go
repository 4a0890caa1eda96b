package recognizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Tutortoise/plate-recognition-service/ocr"
)

// Clean strips whitespace, upper-cases and keeps letters, digits and
// dashes. Letters of any script survive.
func Clean(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// PickBest turns OCR blocks into one plate string.
//
// Without a pattern the plate is every block joined in reading order, since
// word-level OCR splits "MH 12 AB 1234" into four blocks. With a pattern the
// highest-confidence matching block wins and the joined text is the fallback.
func PickBest(blocks []ocr.TextBlock, pattern *regexp.Regexp) (string, float32) {
	if pattern == nil {
		return joinBlocks(blocks)
	}

	var best string
	var bestConf float32 = -1
	for _, b := range blocks {
		text := Clean(b.Text)
		if !isPlate(text, pattern) {
			continue
		}
		if b.Confidence > bestConf {
			best = text
			bestConf = b.Confidence
		}
	}
	if best != "" {
		return best, bestConf
	}

	joined, conf := joinBlocks(blocks)
	if !isPlate(joined, pattern) {
		return "", 0
	}
	return joined, conf
}

// joinBlocks concatenates the cleaned blocks in reading order and averages
// the confidence of the blocks that contributed text.
func joinBlocks(blocks []ocr.TextBlock) (string, float32) {
	var sb strings.Builder
	var sum float32
	var n int
	for _, b := range readingOrder(blocks) {
		text := Clean(b.Text)
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sum += b.Confidence
		n++
	}
	if n == 0 {
		return "", 0
	}
	return sb.String(), sum / float32(n)
}

// readingOrder sorts blocks top to bottom by line, then left to right. A
// block starts a new line when its vertical centre is below the bottom of
// the current line.
func readingOrder(blocks []ocr.TextBlock) []ocr.TextBlock {
	ordered := append([]ocr.TextBlock(nil), blocks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Bounds.Min.Y < ordered[j].Bounds.Min.Y
	})

	var lines [][]ocr.TextBlock
	lineBottom := 0
	for _, b := range ordered {
		centre := (b.Bounds.Min.Y + b.Bounds.Max.Y) / 2
		if len(lines) == 0 || centre > lineBottom {
			lines = append(lines, nil)
			lineBottom = b.Bounds.Max.Y
		}
		last := len(lines) - 1
		lines[last] = append(lines[last], b)
		lineBottom = max(lineBottom, b.Bounds.Max.Y)
	}

	out := ordered[:0]
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool {
			return line[i].Bounds.Min.X < line[j].Bounds.Min.X
		})
		out = append(out, line...)
	}
	return out
}
func isPlate(text string, pattern *regexp.Regexp) bool {
	if text == "" {
		return false
	}
	if pattern == nil {
		return true
	}
	return pattern.MatchString(text)
}
