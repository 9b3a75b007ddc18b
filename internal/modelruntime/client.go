package modelruntime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/calebrhodes/photoflow-backend/internal/device"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
)

const (
	// EmbeddingDims is the vector width produced by the embedding model.
	EmbeddingDims = 512

	responseBodyReadLimit int64 = 1024

	warmupBaseDelay  = 2 * time.Second
	warmupMaxRetries = 4
)

// ServiceCaption and ServiceEmbed name the two model services hosted by the
// runtime. They appear in metrics labels and warmup requests.
const (
	ServiceCaption = "caption"
	ServiceEmbed   = "embed"
)

// Client talks to the model runtime that serves captioning and embedding
// inference over HTTP.
type Client struct {
	httpClient    *http.Client
	captionURL    string
	embedURL      string
	token         string
	warmupTimeout time.Duration
	warmupDelay   time.Duration
	device        device.ComputeDevice
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithWarmupTimeout bounds how long a single warmup request may take.
func WithWarmupTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.warmupTimeout = timeout
		}
	}
}

// WithWarmupBackoff overrides the base delay between warmup retries.
func WithWarmupBackoff(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.warmupDelay = delay
		}
	}
}

// NewClient builds the runtime client for the given service endpoints.
func NewClient(captionURL, embedURL, token string, dev device.ComputeDevice, opts ...Option) (*Client, error) {
	trimmedCaption := strings.TrimSpace(captionURL)
	trimmedEmbed := strings.TrimSpace(embedURL)
	if trimmedCaption == "" {
		return nil, fmt.Errorf("caption url is required")
	}
	if trimmedEmbed == "" {
		return nil, fmt.Errorf("embed url is required")
	}
	if dev == nil {
		return nil, fmt.Errorf("compute device is required")
	}

	client := &Client{
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		captionURL:    trimmedCaption,
		embedURL:      trimmedEmbed,
		token:         strings.TrimSpace(token),
		warmupTimeout: 120 * time.Second,
		warmupDelay:   warmupBaseDelay,
		device:        dev,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// Device returns the compute device the client advertises to the runtime.
func (c *Client) Device() device.ComputeDevice {
	return c.device
}

// CaptionResult holds the caption inference output.
type CaptionResult struct {
	Description string
	Confidence  float64
	Model       string
}

type inferRequest struct {
	Image    string `json:"image,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Device   string `json:"device"`
	Warmup   bool   `json:"warmup,omitempty"`
}

// Caption runs caption inference on the provided image bytes.
func (c *Client) Caption(ctx context.Context, image []byte, mimeType string) (*CaptionResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "model runtime client not configured")
	}
	if len(image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "image bytes are required")
	}

	var apiResp struct {
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
		Model       string  `json:"model"`
	}
	if err := c.post(ctx, c.captionURL, inferRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: mimeType,
		Device:   c.device.Name(),
	}, &apiResp); err != nil {
		return nil, err
	}

	return &CaptionResult{
		Description: strings.TrimSpace(apiResp.Description),
		Confidence:  apiResp.Confidence,
		Model:       apiResp.Model,
	}, nil
}

// Embed runs embedding inference and validates the vector width.
func (c *Client) Embed(ctx context.Context, image []byte, mimeType string) ([]float32, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "model runtime client not configured")
	}
	if len(image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "image bytes are required")
	}

	var apiResp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, c.embedURL, inferRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: mimeType,
		Device:   c.device.Name(),
	}, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Embedding) != EmbeddingDims {
		return nil, pkgerrors.New(pkgerrors.CodeModelFailure,
			fmt.Sprintf("runtime returned %d dims, expected %d", len(apiResp.Embedding), EmbeddingDims))
	}

	return apiResp.Embedding, nil
}

// Warmup asks the runtime to load the named model service, retrying with
// exponential backoff while the runtime is still coming up.
func (c *Client) Warmup(ctx context.Context, service string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "model runtime client not configured")
	}

	var endpoint string
	switch service {
	case ServiceCaption:
		endpoint = c.captionURL
	case ServiceEmbed:
		endpoint = c.embedURL
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown model service %q", service))
	}

	ctx, cancel := context.WithTimeout(ctx, c.warmupTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(warmupMaxRetries, retry.NewExponential(c.warmupDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var apiResp struct {
			Loaded bool   `json:"loaded"`
			Device string `json:"device"`
		}
		if err := c.post(ctx, endpoint, inferRequest{Device: c.device.Name(), Warmup: true}, &apiResp); err != nil {
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if !apiResp.Loaded {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeServiceUnavailable,
				fmt.Sprintf("%s model not loaded yet", service)))
		}
		return nil
	})
}

func (c *Client) post(ctx context.Context, endpoint string, payload inferRequest, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal runtime request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build runtime request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "runtime request canceled")
		}
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "execute runtime request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return pkgerrors.Wrap(codeForStatus(resp.StatusCode), cause, "runtime request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeModelFailure, err, "decode runtime response")
	}
	return nil
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return pkgerrors.CodeTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return pkgerrors.CodeServiceUnavailable
	case status >= 500:
		return pkgerrors.CodeModelFailure
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return pkgerrors.CodeInvalidInput
	default:
		return pkgerrors.CodeDependency
	}
}
