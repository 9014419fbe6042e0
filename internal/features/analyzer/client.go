// Package analyzer relays submitted images to the external image-analysis
// service and normalizes every failure mode into ErrUnavailable: from the
// gateway's point of view analysis either produced a result or it did not.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"roadwatch/internal/config"

	"go.uber.org/zap"
)

// ErrUnavailable covers transport failures, timeouts, non-2xx responses
// and malformed bodies alike. Callers must not treat it as fatal.
var ErrUnavailable = errors.New("AnalysisUnavailable")

// Result is the analysis payload, stored opaquely on the report.
type Result = map[string]any

type Client interface {
	Analyze(ctx context.Context, image []byte, filename string) (Result, error)
}

type HTTPClient struct {
	BaseURL    string
	HttpClient *http.Client
	Logger     *zap.Logger
}

func NewHTTPClient(cfg *config.Config, logger *zap.Logger) Client {
	return &HTTPClient{
		BaseURL: cfg.AnalyzerURL,
		HttpClient: &http.Client{
			Timeout: cfg.AnalyzerTimeout,
		},
		Logger: logger,
	}
}

// Analyze posts the raw image as a multipart upload to /predict-image and
// decodes the JSON response. No retries here: retry policy belongs to the
// caller so submission latency stays predictable.
func (c *HTTPClient) Analyze(ctx context.Context, image []byte, filename string) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict-image", &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		c.Logger.Warn("analyzer request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Logger.Warn("analyzer returned non-2xx",
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.Logger.Warn("analyzer returned malformed body", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return result, nil
}
