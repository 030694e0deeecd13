// Package client provides the HTTP client for the remote PII Analysis
// Service. It submits one multipart request per call and never retries; retry
// policy belongs to whoever starts the session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/otherjamesbrown/redact-cli/pkg/buildinfo"
	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
)

// Default connection settings.
const (
	DefaultTimeout = 2 * time.Minute
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes = 32 << 20
)

// Multipart field names understood by the Analysis Service.
const (
	FieldFile         = "file"
	FieldEnabledTypes = "enabled_types"
)

// Endpoints.
const (
	EndpointAnalyze = "/analyze"
	EndpointHealth  = "/"
)

// serverErrorDetail is used when an error body cannot be decoded.
const serverErrorDetail = "Server error"

// AnalyzeRequest is the document and filter submitted for analysis.
type AnalyzeRequest struct {
	FileName  string
	MediaType string
	Payload   []byte
	// EnabledTypes holds analyzer codes. When empty the field is omitted and
	// the analyzer applies its default set.
	EnabledTypes []string
}

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Healthy   bool    `json:"healthy"`
	Status    string  `json:"status"`
	URL       string  `json:"url"`
	LatencyMs float64 `json:"latency_ms"`
	Message   string  `json:"message,omitempty"`
}

// Config configures an AnalyzerClient.
type Config struct {
	// BaseURL is the Analysis Service root, e.g. http://localhost:8000.
	BaseURL string
	// Timeout bounds one request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Token, when set, is sent as a bearer credential.
	Token string
	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// AnalyzerClient talks to the Analysis Service over HTTP.
type AnalyzerClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     logging.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// Option customizes an AnalyzerClient.
type Option func(*AnalyzerClient)

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) Option {
	return func(c *AnalyzerClient) { c.logger = l.With(logging.F("component", "analyzer_client")) }
}

// WithMetrics enables request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *AnalyzerClient) { c.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(c *AnalyzerClient) { c.tracer = t }
}

// NewAnalyzerClient creates a client for the service at cfg.BaseURL.
func NewAnalyzerClient(cfg Config, opts ...Option) (*AnalyzerClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("analyzer base URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("analyzer base URL must start with http:// or https://: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &AnalyzerClient{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logging.NewNopLogger(),
		tracer:     observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured service root.
func (c *AnalyzerClient) BaseURL() string {
	return c.baseURL
}

// Analyze submits the document exactly once. On a 2xx response it returns
// the raw body for the normalizer. Any other status yields an
// *errors.AnalysisError carrying the decoded detail; transport failures yield
// one with StatusCode 0.
func (c *AnalyzerClient) Analyze(ctx context.Context, req AnalyzeRequest) ([]byte, error) {
	ctx, span := c.tracer.StartAnalyzeSpan(ctx, EndpointAnalyze, req.EnabledTypes)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndpointAnalyze, body)
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	c.logger.Debug("Submitting document for analysis",
		logging.F("file", req.FileName),
		logging.F("bytes", len(req.Payload)),
		logging.F("enabled_types", strings.Join(req.EnabledTypes, ",")))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(EndpointAnalyze, "error", start)
		aerr := &apperrors.AnalysisError{Detail: err.Error(), Cause: err}
		helper.RecordError(aerr, string(apperrors.Classify(aerr)))
		return nil, aerr
	}
	defer resp.Body.Close()
	c.observe(EndpointAnalyze, statusClass(resp.StatusCode), start)
	helper.SetHTTPStatus(resp.StatusCode)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		aerr := &apperrors.AnalysisError{StatusCode: resp.StatusCode, Detail: "reading response", Cause: err}
		helper.RecordError(aerr, string(apperrors.Classify(aerr)))
		return nil, aerr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		aerr := &apperrors.AnalysisError{
			StatusCode: resp.StatusCode,
			Detail:     DecodeErrorDetail(resp.StatusCode, respBody),
		}
		helper.RecordError(aerr, string(apperrors.Classify(aerr)))
		c.logger.Warn("Analysis Service returned an error",
			logging.F("status", resp.StatusCode),
			logging.F("detail", aerr.Detail))
		return nil, aerr
	}

	helper.SetOK()
	return respBody, nil
}

// Health probes the service root, which answers {"status":"ok"}.
func (c *AnalyzerClient) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, span := c.tracer.StartHealthSpan(ctx, EndpointHealth)
	defer span.End()

	url := c.baseURL + EndpointHealth
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating health request: %w", err)
	}
	c.authorize(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		c.observe("health", "error", start)
		return &HealthStatus{URL: url, Status: "unreachable", LatencyMs: latency, Message: err.Error()}, nil
	}
	defer resp.Body.Close()
	c.observe("health", statusClass(resp.StatusCode), start)

	var payload struct {
		Status string `json:"status"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, &payload)

	status := &HealthStatus{
		URL:       url,
		Status:    payload.Status,
		LatencyMs: latency,
		Healthy:   resp.StatusCode == http.StatusOK && payload.Status == "ok",
	}
	if status.Status == "" {
		status.Status = apperrors.StatusText(resp.StatusCode)
	}
	if !status.Healthy {
		status.Message = fmt.Sprintf("unexpected health response (HTTP %d)", resp.StatusCode)
	}
	return status, nil
}

func (c *AnalyzerClient) authorize(req *http.Request) {
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *AnalyzerClient) observe(endpoint, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordAnalyzerRequest(strings.TrimPrefix(endpoint, "/"), status, time.Since(start).Seconds())
	}
}

// encodeMultipart writes the file part and, when a filter is set, the
// enabled_types field.
func encodeMultipart(req AnalyzeRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldFile, escapeQuotes(req.FileName)))
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	header.Set("Content-Type", mediaType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Payload); err != nil {
		return nil, "", err
	}

	if len(req.EnabledTypes) > 0 {
		if err := w.WriteField(FieldEnabledTypes, strings.Join(req.EnabledTypes, ",")); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// DecodeErrorDetail extracts a user-facing detail from an error body. A
// string detail is used verbatim; any other detail (such as a validation
// list) is rendered as compact JSON; an unparseable body yields
// "Server error"; a body without a detail yields "HTTP <status>".
func DecodeErrorDetail(status int, body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return serverErrorDetail
	}

	raw, ok := payload["detail"]
	if !ok {
		return apperrors.StatusText(status)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return apperrors.StatusText(status)
		}
		return s
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil || compact.String() == "null" {
		return apperrors.StatusText(status)
	}
	return compact.String()
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
