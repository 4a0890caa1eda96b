package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/Tutortoise/plate-recognition-service/ocr"
	log "github.com/sirupsen/logrus"
)

// Remote uploads the frame to an upstream recognition service that answers
// {"plate": "..."} and uses "UNKNOWN" for no plate.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string, client *http.Client) *Remote {
	return &Remote{url: url, client: client}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

type remoteResponse struct {
	Plate      string  `json:"plate"`
	Confidence float32 `json:"confidence"`
}

func (r *Remote) Recognize(ctx context.Context, img image.Image) (Result, error) {
	data, err := ocr.EncodeJPEG(img)
	if err != nil {
		return Result{}, err
	}

	body, contentType, err := multipartBody(data)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return Result{}, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("recognition service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode recognition response: %w", err)
	}

	log.WithField("plate", out.Plate).Debug("remote recognizer answered")

	plate := Clean(out.Plate)
	if plate == "" || plate == Unknown {
		return Result{Backend: r.Name()}, nil
	}
	return Result{Plate: plate, Confidence: out.Confidence, Backend: r.Name()}, nil
}

func multipartBody(jpeg []byte) (io.Reader, string, error) {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="plate.jpg"`)
	header.Set("Content-Type", "image/jpeg")

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

var _ Recognizer = (*Remote)(nil)
