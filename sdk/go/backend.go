package freshchainsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
)

// Login exchanges credentials for a bearer token. Unlike the other calls it
// returns an error, since the login body carries its own success flag.
func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return LoginResponse{}, err
	}
	status, data, err := c.do(ctx, http.MethodPost, "auth/login", bytes.NewReader(payload), "application/json")
	if err != nil {
		return LoginResponse{}, &APIError{StatusCode: status, Message: networkMessage(err)}
	}
	if status < 200 || status >= 300 {
		msg := "Login failed"
		var body struct {
			Detail json.RawMessage `json:"detail"`
		}
		if json.Unmarshal(data, &body) == nil {
			if d := messageField(body.Detail); d != "" {
				msg = d
			}
		}
		return LoginResponse{}, &APIError{StatusCode: status, Message: msg}
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return LoginResponse{}, fmt.Errorf("decode login response: %w", err)
	}
	if !out.Success || out.Token == "" {
		msg := out.Message
		if msg == "" {
			msg = "Login failed"
		}
		return LoginResponse{}, &APIError{StatusCode: status, Message: msg}
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) Response[Health] {
	return call[Health](ctx, c, http.MethodGet, "health", nil)
}

func (c *Client) CreateBatch(ctx context.Context, req BatchCreationRequest) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodPost, "batch/create", req)
}

func (c *Client) UpdateBatchStage(ctx context.Context, req BatchUpdateRequest) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodPost, "batch/update-stage", req)
}

func (c *Client) ReportAlert(ctx context.Context, req ReportAlertRequest) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodPost, "batch/report-alert", req)
}

// GetBatchDetails reads the latest on-chain state of a batch.
func (c *Client) GetBatchDetails(ctx context.Context, batchID string) Response[BatchDetails] {
	return call[BatchDetails](ctx, c, http.MethodGet, "batch/"+url.PathEscape(batchID), nil)
}

func (c *Client) ListAllBatches(ctx context.Context) Response[[]BatchDetails] {
	return call[[]BatchDetails](ctx, c, http.MethodGet, "admin/batches", nil)
}

func (c *Client) LinkSensorToBatch(ctx context.Context, req QRLinkRequest) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodPost, "qr/scan", req)
}

func (c *Client) RegisterSensor(ctx context.Context, req SensorRegistration) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodPost, "sensors/register", req)
}

func (c *Client) SubmitSensorData(ctx context.Context, req SensorDataSubmission) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodPost, "sensors/data", req)
}

func (c *Client) GetSensorReadings(ctx context.Context, batchID string) Response[SensorReadingsResponse] {
	return call[SensorReadingsResponse](ctx, c, http.MethodGet, "sensors/batch/"+url.PathEscape(batchID), nil)
}

func (c *Client) WalletStatus(ctx context.Context) Response[json.RawMessage] {
	return call[json.RawMessage](ctx, c, http.MethodGet, "admin/wallet/status", nil)
}

// ScanFreshness uploads an image for freshness scoring. The scoring endpoint
// replies with the bare result, never an envelope.
func (c *Client) ScanFreshness(ctx context.Context, filename string, image io.Reader, batchID string) Response[FreshnessResult] {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Response[FreshnessResult]{Error: err.Error()}
	}
	if _, err := io.Copy(part, image); err != nil {
		return Response[FreshnessResult]{Error: fmt.Sprintf("read image: %v", err)}
	}
	if batchID != "" {
		if err := mw.WriteField("batchId", batchID); err != nil {
			return Response[FreshnessResult]{Error: err.Error()}
		}
	}
	if err := mw.Close(); err != nil {
		return Response[FreshnessResult]{Error: err.Error()}
	}

	status, data, err := c.do(ctx, http.MethodPost, "ml/freshness-scan", &buf, mw.FormDataContentType())
	if err != nil {
		return Response[FreshnessResult]{StatusCode: status, Error: networkMessage(err)}
	}
	if status < 200 || status >= 300 {
		msg := "Failed to scan image"
		var body struct {
			Detail json.RawMessage `json:"detail"`
		}
		if json.Unmarshal(data, &body) == nil {
			if d := messageField(body.Detail); d != "" {
				msg = d
			}
		}
		return Response[FreshnessResult]{StatusCode: status, Error: msg}
	}
	out := Response[FreshnessResult]{StatusCode: status, Success: true}
	if err := json.Unmarshal(data, &out.Data); err != nil {
		return Response[FreshnessResult]{StatusCode: status, Error: fmt.Sprintf("decode freshness result: %v", err)}
	}
	return out
}

// IsAPIError reports whether err is an *APIError with the given status.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
