package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

// httpRequest sends a request and returns the response. Bodies of JSON
// responses are also decoded into "json". Status codes >= 400 are errors.
func (f *functions) httpRequest(ctx context.Context, args map[string]any) (any, error) {
	if err := registry.Expect(args, "url", "method?", "body?", "headers?"); err != nil {
		return nil, err
	}
	url, err := registry.String(args, "url")
	if err != nil {
		return nil, err
	}
	method, err := registry.OptionalString(args, "method", http.MethodGet)
	if err != nil {
		return nil, err
	}
	body, err := requestBody(args["body"])
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if h, ok := args["headers"]; ok && h != nil {
		headers, ok := h.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("argument headers must be a mapping, got %T", h)
		}
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	f.logger.Debug("http request", zap.String("method", req.Method), zap.String("url", url), zap.Int("status", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%d %s", resp.StatusCode, string(respBody))
	}
	out := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := yaml.Unmarshal(respBody, &decoded); err == nil {
			out["json"] = decoded
		}
	}
	return out, nil
}

// requestBody accepts a string as-is and encodes anything else as JSON.
func requestBody(v any) (string, error) {
	switch b := v.(type) {
	case nil:
		return "", nil
	case string:
		return b, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding body: %w", err)
	}
	return string(data), nil
}
