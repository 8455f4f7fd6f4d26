package freshchainsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HeaderSource supplies per-request headers, normally the session store.
type HeaderSource interface {
	AuthHeaders() map[string]string
}

// Client is the FreshChain backend client. Every call resolves to a Response;
// transport, HTTP and decoding failures are reported inside it rather than
// as a separate error return.
type Client struct {
	BaseURL    string
	Auth       HeaderSource
	HTTPClient *http.Client
}

// New creates a client for the backend at baseURL. No request timeout is set;
// callers bound calls with a context deadline when they need one.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// Response is the normalized result of a backend call.
type Response[T any] struct {
	Success         bool
	Data            T
	Error           string
	Message         string
	TransactionHash string
	StatusCode      int
}

// Err returns nil on success, an *APIError otherwise.
func (r Response[T]) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "request failed"
	}
	return &APIError{StatusCode: r.StatusCode, Message: msg}
}

// APIError describes a failed call. StatusCode is 0 for transport failures.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches a key sent as the Idempotency-Key header on the
// next call made with the returned context.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey, if any.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// rawResponse is a normalized response whose data has not been decoded yet.
type rawResponse struct {
	Success         bool
	Data            json.RawMessage
	Error           string
	Message         string
	TransactionHash string
	StatusCode      int
}

func decodeInto[T any](raw rawResponse) Response[T] {
	out := Response[T]{
		Success:         raw.Success,
		Error:           raw.Error,
		Message:         raw.Message,
		TransactionHash: raw.TransactionHash,
		StatusCode:      raw.StatusCode,
	}
	if !raw.Success || len(raw.Data) == 0 || string(raw.Data) == "null" {
		return out
	}
	if err := json.Unmarshal(raw.Data, &out.Data); err != nil {
		out.Success = false
		out.Error = fmt.Sprintf("decode response data: %v", err)
	}
	return out
}

func call[T any](ctx context.Context, c *Client, method, endpoint string, body any) Response[T] {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return Response[T]{Error: err.Error()}
		}
	}
	return decodeInto[T](c.send(ctx, method, endpoint, &buf, "application/json"))
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string) rawResponse {
	status, data, err := c.do(ctx, method, endpoint, body, contentType)
	if err != nil {
		return rawResponse{StatusCode: status, Error: networkMessage(err)}
	}
	return normalize(status, data)
}

// do performs one request and returns the status and raw body.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return 0, nil, err
	}
	if c.Auth != nil {
		for k, v := range c.Auth.AuthHeaders() {
			req.Header.Set(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key := IdempotencyKey(ctx); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// normalize folds the backend's two success shapes and its error shape into
// one rawResponse.
func normalize(status int, data []byte) rawResponse {
	out := rawResponse{StatusCode: status}
	trimmed := bytes.TrimSpace(data)
	var obj map[string]json.RawMessage
	isObject := len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &obj) == nil

	if status < 200 || status >= 300 {
		if isObject {
			if detail := messageField(obj["detail"]); detail != "" {
				out.Error = detail
				return out
			}
		}
		out.Error = fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
		return out
	}

	if len(trimmed) == 0 {
		out.Success = true
		return out
	}
	if !isObject {
		var probe any
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			out.Error = fmt.Sprintf("invalid JSON response: %v", err)
			return out
		}
		out.Success = true
		out.Data = json.RawMessage(trimmed)
		return out
	}

	out.Message = messageField(obj["message"])
	out.TransactionHash = messageField(obj["transactionHash"])
	rawSuccess, enveloped := obj["success"]
	if !enveloped {
		out.Success = true
		out.Data = json.RawMessage(trimmed)
		return out
	}
	if err := json.Unmarshal(rawSuccess, &out.Success); err != nil {
		out.Error = fmt.Sprintf("invalid success flag: %s", string(rawSuccess))
		return out
	}
	out.Data = obj["data"]
	if !out.Success {
		for _, key := range []string{"error", "message", "detail"} {
			if msg := messageField(obj[key]); msg != "" {
				out.Error = msg
				break
			}
		}
	}
	return out
}

// messageField renders a JSON value as display text: strings verbatim,
// anything else as compact JSON.
func messageField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func networkMessage(err error) string {
	if err == nil {
		return "Network error occurred"
	}
	return err.Error()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
