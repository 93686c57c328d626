package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxResponseSize bounds model service responses.
const maxResponseSize = 4 << 20

// HTTPClient talks to one model behind the model service.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	label      LabelFunc
	httpClient *http.Client
}

// NewHTTPClient creates a client for the model at endpoint. The API key is
// read from apiKeyEnv and is optional.
func NewHTTPClient(endpoint, apiKeyEnv string, timeout time.Duration, label LabelFunc) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("classifier endpoint is required")
	}
	if label == nil {
		return nil, errors.New("classifier label func is required")
	}

	var apiKey string
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
	}

	return &HTTPClient{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
		label:      label,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type predictRequest struct {
	Text string `json:"text"`
}

type explainRequest struct {
	Text   string `json:"text"`
	Target int    `json:"target"`
}

type explainResponse struct {
	Attributions []Attribution `json:"attributions"`
}

// Classify implements Classifier.
func (c *HTTPClient) Classify(ctx context.Context, text string) (Prediction, error) {
	var p Prediction
	if err := c.post(ctx, "/predict", predictRequest{Text: text}, &p); err != nil {
		return Prediction{}, err
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return Prediction{}, fmt.Errorf("classifier returned confidence out of range: %v", p.Confidence)
	}
	p.Label = c.label(p.Index)
	return p, nil
}

// Explain implements Classifier.
func (c *HTTPClient) Explain(ctx context.Context, text string, target int) ([]Attribution, error) {
	var resp explainResponse
	if err := c.post(ctx, "/explain", explainRequest{Text: text, Target: target}, &resp); err != nil {
		return nil, err
	}
	if resp.Attributions == nil {
		return []Attribution{}, nil
	}
	return resp.Attributions, nil
}

// HealthCheck verifies the model service is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: model service returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: model service returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("model service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
