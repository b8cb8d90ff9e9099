package social

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"schooldesk/internal/models"
	"schooldesk/internal/observability"

	"github.com/tidwall/gjson"
)

// maxResponseBytes bounds a platform API response body.
const maxResponseBytes = 2 << 20

// ErrBodyTooLarge reports a response body over the read limit.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// readLimited reads at most limit bytes of r and fails when r holds more.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// PlatformError is a non-2xx answer from a platform API.
type PlatformError struct {
	Platform models.Platform
	Status   int
	Message  string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Platform, e.Status)
	}
	return fmt.Sprintf("%s: %d %s", e.Platform, e.Status, e.Message)
}

// Rejected reports whether the platform refused the request (4xx), as opposed
// to being unreachable or failing internally.
func (e *PlatformError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}

type request struct {
	platform    models.Platform
	op          string
	method      string
	url         string
	body        io.Reader
	contentType string
	bearer      string
	headers     map[string]string
}

func formBody(values url.Values) io.Reader {
	return strings.NewReader(values.Encode())
}

// send performs req and returns the parsed JSON body and response headers.
func send(ctx context.Context, client *http.Client, req request) (gjson.Result, http.Header, error) {
	defer observability.TrackUpstream(string(req.platform), req.op)()
	ctx, span := observability.GetTraceLayer().TraceUpstreamCall(ctx, string(req.platform), req.op)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, req.body)
	if err != nil {
		return gjson.Result{}, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		observability.FailSpan(span, err)
		return gjson.Result{}, nil, fmt.Errorf("%s %s: %w", req.platform, req.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", req.platform, req.op, err)
		observability.FailSpan(span, err)
		return gjson.Result{}, resp.Header, err
	}
	parsed := gjson.ParseBytes(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = parsed.Get("message").String()
		}
		if msg == "" {
			msg = parsed.Get("error_description").String()
		}
		perr := &PlatformError{Platform: req.platform, Status: resp.StatusCode, Message: msg}
		observability.FailSpan(span, perr)
		return parsed, resp.Header, perr
	}
	return parsed, resp.Header, nil
}
