package sandbox

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/openjobspec/ojs-jobrunner/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is what an outbound request hands back to a handler. Code is the
// HTTP status, or -1 when the request never completed.
type Response struct {
	Code  int    `json:"code"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data"`
}

// Map renders the response as the plain object script handlers receive.
func (r *Response) Map() map[string]any {
	m := map[string]any{"code": r.Code, "data": r.Data, "error": nil}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// Requester performs outbound HTTP requests on behalf of handlers.
type Requester struct {
	client *resty.Client
	logger *slog.Logger
}

// NewRequester returns a Requester whose requests give up after timeout.
func NewRequester(timeout time.Duration, logger *slog.Logger) *Requester {
	if logger == nil {
		logger = slog.Default()
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "*/*").
		SetHeader("User-Agent", "ojs-jobrunner/"+core.Version)
	return &Requester{client: c, logger: logger}
}

// ContentType maps a request mode to a Content-Type header value.
// Unknown short modes map to "".
func ContentType(mode string) string {
	m := strings.ToLower(mode)
	switch {
	case strings.Contains(m, "json"):
		return "application/json"
	case strings.Contains(m, "xml"):
		return "application/xml"
	case strings.Contains(m, "form"), strings.Contains(m, "url"):
		return "application/x-www-form-urlencoded"
	case strings.Contains(m, "text"):
		return "text/plain"
	case len(mode) > 10:
		return mode
	}
	return ""
}

// Do sends one request. Failures are reported in the Response and the
// returned error; they never panic.
func (r *Requester) Do(ctx context.Context, method, rawURL string, payload any, mode string, trace bool) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return &Response{Code: -1, Error: err.Error()}, err
	}

	req := r.client.R().SetContext(ctx)
	contentType := ContentType(mode)
	if contentType != "" {
		req.SetHeader("Content-Type", contentType)
	}
	if trace {
		req.EnableTrace()
	}
	if body := encodeBody(payload, contentType); body != nil {
		req.SetBody(body)
	}

	method = strings.ToUpper(method)
	res, err := req.Execute(method, rawURL)
	if err != nil {
		r.logger.Warn("outbound request failed", "method", method, "url", rawURL, "error", err)
		return &Response{Code: -1, Error: err.Error()}, err
	}

	out := &Response{Code: res.StatusCode()}
	if out.Code >= 400 {
		out.Error = res.Status()
	} else {
		out.Data = decodeBody(res.Body())
	}

	if trace {
		ti := res.Request.TraceInfo()
		r.logger.Info("outbound request",
			"method", method,
			"url", rawURL,
			"status", out.Code,
			"total_ms", ti.TotalTime.Milliseconds(),
			"request_header", req.Header,
			"request_body", string(bodyBytes(req.Body)),
			"response_body", string(res.Body()),
		)
	} else {
		r.logger.Debug("outbound request", "method", method, "url", rawURL, "status", out.Code)
	}
	return out, nil
}

func bodyBytes(v any) []byte {
	b, _ := v.([]byte)
	return b
}

func encodeBody(payload any, contentType string) []byte {
	switch p := payload.(type) {
	case nil:
		return nil
	case string:
		if p == "" {
			return nil
		}
		return []byte(p)
	case []byte:
		return p
	case map[string]any:
		if contentType == "application/json" || contentType == "application/xml" {
			break
		}
		form := url.Values{}
		for k, v := range p {
			form.Set(k, formValue(v))
		}
		return []byte(form.Encode())
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return buf
}

func formValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(buf)
}

func decodeBody(b []byte) any {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if b[0] == '[' || b[0] == '{' {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v
		}
	}
	return string(b)
}
