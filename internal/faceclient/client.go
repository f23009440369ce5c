package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"classattend/internal/metrics"
)

// Unknown is what the recognition service predicts when its confidence is
// below its own threshold.
const Unknown = "unknown"

// noFaceDetail is the detail the service sends with its 404 for an image
// without a face. Any other 404 is a routing problem, not a scan outcome.
const noFaceDetail = "No face detected"

// ErrNoFace is returned when the service found no face in the image.
var ErrNoFace = errors.New("no face detected")

// Prediction is the recognition service's answer for one image.
type Prediction struct {
	Name       string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Recognized reports whether the prediction names a person.
func (p *Prediction) Recognized() bool {
	if p == nil {
		return false
	}
	name := strings.TrimSpace(p.Name)
	return name != "" && !strings.EqualFold(name, Unknown)
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Skip     bool
	SkipName string
}

// New creates a client with configurable timeout. With skip set the service is
// never contacted and every image is predicted as skipName.
func New(baseURL string, skip bool, skipName string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Skip:     skip,
		SkipName: skipName,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Predict uploads an image and returns the identified name.
func (c *Client) Predict(ctx context.Context, image io.Reader, filename string) (*Prediction, error) {
	if c.Skip {
		return &Prediction{Name: c.SkipName, Confidence: 1}, nil
	}
	if image == nil {
		return nil, fmt.Errorf("image required")
	}
	if filename == "" {
		filename = "scan.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, image); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict-face", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	t0 := time.Now()
	resp, err := c.HTTP.Do(req)
	metrics.ObserveFaceRequest(time.Since(t0))
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound && detail(bodyBytes) == noFaceDetail {
			return nil, ErrNoFace
		}
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Prediction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	out.Name = strings.TrimSpace(out.Name)
	return &out, nil
}

// detail extracts FastAPI's {"detail": "..."} error message.
func detail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Detail
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
