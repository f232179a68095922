package predict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 1 << 20

// ImageField is the multipart field carrying the bridge photograph
const ImageField = "image"

// HTTPService posts prediction requests to an external service as
// multipart/form-data.
type HTTPService struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPService creates a service posting to endpoint. If httpClient is nil
// a client with the given timeout is constructed; a zero timeout waits
// indefinitely.
func NewHTTPService(endpoint string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *HTTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	l := logger.Named("predict").With(zap.String("backend", "http"))
	l.Info("created http prediction backend",
		zap.String("endpoint", endpoint),
		zap.Duration("timeout", httpClient.Timeout))

	return &HTTPService{
		endpoint: endpoint,
		client:   httpClient,
		logger:   l,
	}
}

// Name implements Service
func (s *HTTPService) Name() string { return "http" }

// Endpoint returns the URL requests are posted to
func (s *HTTPService) Endpoint() string { return s.endpoint }

// Predict implements Service
func (s *HTTPService) Predict(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, &TransportError{Op: "build", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return nil, &TransportError{Op: "build", Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	s.logger.Debug("sending prediction request",
		zap.String("url", s.endpoint),
		zap.Int("bytes", body.Len()))

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("prediction request failed", zap.String("url", s.endpoint), zap.Error(err))
		return nil, &TransportError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.logger.Warn("failed to read prediction response", zap.Error(err))
		return nil, &TransportError{Op: "read", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("prediction service returned an error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(data, 256)))
		return nil, &TransportError{Op: "send", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	}

	res, err := decodeResult(data)
	if err != nil {
		s.logger.Warn("undecodable prediction response", zap.Error(err))
		return nil, &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}
	res.Backend = s.Name()
	res.ReceivedAt = time.Now().UTC()

	s.logger.Info("prediction received",
		zap.Float64("failure_load", res.FailureLoad),
		zap.String("unit", string(res.Unit)),
		zap.Duration("elapsed", time.Since(start)))

	return res, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// fileDisposition builds the Content-Disposition of a file part the same
// way multipart.Writer.CreateFormFile does
func fileDisposition(field, filename string) string {
	return fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename))
}

// encodeMultipart writes the image part followed by one string field per
// parameter, in sorted key order.
func encodeMultipart(req *Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fileDisposition(ImageField, req.Image.Filename))
	h.Set("Content-Type", req.Image.MIMEType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Image.Data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}

	fields := req.Params.Strings()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
