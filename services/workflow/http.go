package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"automation-engine/pkg/expr"
)

const maxResponseBody = 1 << 20

// httpRequestConfig describes an outbound HTTP call. URL, header values and
// string fields of Body may contain {{path}} references.
type httpRequestConfig struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      any               `json:"body"`
	TimeoutMs int               `json:"timeoutMs"`
}

// NewHTTPClient returns the client shared by HTTP nodes.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// doHTTPRequest performs the call and returns the response as a record.
// Statuses of 400 and above are returned as *HTTPStatusError.
func doHTTPRequest(ctx context.Context, client *http.Client, cfg httpRequestConfig, scope expr.Scope) (map[string]any, error) {
	url := strings.TrimSpace(expr.Render(cfg.URL, scope))
	if url == "" {
		return nil, fmt.Errorf("http request requires a url")
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	if cfg.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var body io.Reader
	if cfg.Body != nil {
		switch b := expr.RenderValue(cfg.Body, scope).(type) {
		case string:
			body = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, expr.Render(v, scope))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	tooLarge := len(raw) > maxResponseBody
	if tooLarge {
		raw = raw[:maxResponseBody]
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if tooLarge {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBody)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       decoded,
	}, nil
}

// HTTPExecutor handles the "http" node type, a leaf that performs one HTTP
// call and adds the response to its input under "response".
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) ConfigSchema() string {
	return `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "get", "post", "put", "patch", "delete", "head"]},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"timeoutMs": {"type": "integer", "minimum": 0}
		}
	}`
}

func (e *HTTPExecutor) Execute(ctx context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult {
	var cfg httpRequestConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return Fail(err)
	}

	resp, err := doHTTPRequest(ctx, e.client, cfg, ec.Scope(input))
	if err != nil {
		return Fail(err)
	}

	out := copyRecord(input)
	out["response"] = resp
	return Succeed(out)
}
