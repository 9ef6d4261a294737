package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const maxRecognizerResponse = 64 << 10

// HTTPRecognizer calls an OCR sidecar that accepts {"image": "<base64>"}
// and answers {"result": "<text>"}.
type HTTPRecognizer struct {
	url    string
	client *http.Client
}

func NewHTTPRecognizer(url string, timeout time.Duration) *HTTPRecognizer {
	return &HTTPRecognizer{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type recognizeRequest struct {
	Image string `json:"image"`
}

type recognizeResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	body, err := json.Marshal(recognizeRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRecognizerResponse))
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr failed with status %d", resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ocr error: %s", out.Error)
	}

	log.Debug().
		Str("text", out.Result).
		Dur("elapsed", time.Since(start)).
		Msg("captcha recognized")
	return out.Result, nil
}
