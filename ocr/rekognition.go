package ocr

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	log "github.com/sirupsen/logrus"
)

// TextDetector is the subset of the Rekognition client used here.
type TextDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// RekognitionReader reads text with AWS Rekognition DetectText.
type RekognitionReader struct {
	client TextDetector
}

func NewRekognitionReader(client TextDetector) *RekognitionReader {
	return &RekognitionReader{client: client}
}

func (r *RekognitionReader) Name() string { return "rekognition" }

func (r *RekognitionReader) ReadText(ctx context.Context, img image.Image) ([]TextBlock, error) {
	if r.client == nil {
		return nil, fmt.Errorf("rekognition client is not initialized")
	}

	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	result, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("rekognition DetectText: %w", err)
	}

	width := float64(img.Bounds().Dx())
	height := float64(img.Bounds().Dy())

	var blocks []TextBlock
	for _, det := range result.TextDetections {
		if det.Type != types.TextTypesLine || det.DetectedText == nil {
			continue
		}
		block := TextBlock{
			Text:       aws.ToString(det.DetectedText),
			Confidence: aws.ToFloat32(det.Confidence) / 100,
		}
		if det.Geometry != nil && det.Geometry.BoundingBox != nil {
			block.Bounds = toPixels(det.Geometry.BoundingBox, width, height)
		}
		blocks = append(blocks, block)
	}

	log.WithField("lines", len(blocks)).Debug("rekognition finished")
	return blocks, nil
}

// toPixels converts a ratio bounding box into a pixel rectangle.
func toPixels(bb *types.BoundingBox, width, height float64) image.Rectangle {
	left := float64(aws.ToFloat32(bb.Left)) * width
	top := float64(aws.ToFloat32(bb.Top)) * height
	w := float64(aws.ToFloat32(bb.Width)) * width
	h := float64(aws.ToFloat32(bb.Height)) * height
	return image.Rect(
		int(math.Round(left)),
		int(math.Round(top)),
		int(math.Round(left+w)),
		int(math.Round(top+h)),
	)
}

var _ Reader = (*RekognitionReader)(nil)
