package ocr

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinRegionUsesFrameCoordinates(t *testing.T) {
	// region produced from a 640x640 model box on a 1280x720 frame
	region := detections.ToCropRegion(
		detections.Box{X1: 270, Y1: 220, X2: 370, Y2: 420},
		detections.Size{Width: 640, Height: 640},
		detections.Size{Width: 1280, Height: 720},
	)
	blocks := []TextBlock{
		{Text: "AB123", Bounds: image.Rect(560, 300, 700, 340)},
		// inside the unscaled model box, outside the frame region
		{Text: "NOISE", Bounds: image.Rect(280, 230, 360, 260)},
		{Text: "EDGE", Bounds: image.Rect(700, 440, 800, 500)},
	}

	kept := WithinRegion(blocks, region)

	require.Len(t, kept, 1)
	assert.Equal(t, "AB123", kept[0].Text)
}

func TestWithinRegionEmptyRegion(t *testing.T) {
	blocks := []TextBlock{{Text: "X", Bounds: image.Rect(0, 0, 10, 10)}}
	assert.Nil(t, WithinRegion(blocks, detections.CropRegion{X: 0, Y: 0, Width: 0, Height: 20}))
}

type fakeTextDetector struct {
	out   *rekognition.DetectTextOutput
	err   error
	input *rekognition.DetectTextInput
}

func (f *fakeTextDetector) DetectText(_ context.Context, in *rekognition.DetectTextInput, _ ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestRekognitionReaderConvertsLines(t *testing.T) {
	fake := &fakeTextDetector{out: &rekognition.DetectTextOutput{
		TextDetections: []types.TextDetection{
			{
				Type:         types.TextTypesLine,
				DetectedText: aws.String("51G 12345"),
				Confidence:   aws.Float32(97.5),
				Geometry: &types.Geometry{BoundingBox: &types.BoundingBox{
					Left: aws.Float32(0.25), Top: aws.Float32(0.5),
					Width: aws.Float32(0.5), Height: aws.Float32(0.25),
				}},
			},
			{
				Type:         types.TextTypesWord,
				DetectedText: aws.String("51G"),
				Confidence:   aws.Float32(99),
			},
		},
	}}
	reader := NewRekognitionReader(fake)

	blocks, err := reader.ReadText(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 100)))

	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "51G 12345", blocks[0].Text)
	assert.InDelta(t, 0.975, blocks[0].Confidence, 1e-6)
	assert.Equal(t, image.Rect(50, 50, 150, 75), blocks[0].Bounds)
	assert.NotEmpty(t, fake.input.Image.Bytes)
}

func TestRekognitionReaderError(t *testing.T) {
	reader := NewRekognitionReader(&fakeTextDetector{err: errors.New("throttled")})

	_, err := reader.ReadText(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestRekognitionReaderWithoutClient(t *testing.T) {
	_, err := NewRekognitionReader(nil).ReadText(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.Error(t, err)
}

func TestPrepareKeepsSize(t *testing.T) {
	out := Prepare(image.NewRGBA(image.Rect(0, 0, 40, 20)))
	assert.Equal(t, 40, out.Bounds().Dx())
	assert.Equal(t, 20, out.Bounds().Dy())
}
