package uploader

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/api"
)

// APIClient talks to the upload coordinator. Transient failures on these
// control-plane calls are retried by the underlying retryable client; part
// PUTs to the object store have their own retry loop in the uploader.
type APIClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
}

// NewAPIClient creates a coordinator client.
func NewAPIClient(baseURL string, logger zerolog.Logger) *APIClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Msg("retrying coordinator request")
		}
	}

	return &APIClient{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Init calls POST /upload/init.
func (c *APIClient) Init(req api.InitRequest) (*api.InitResponse, error) {
	var resp api.InitResponse
	if err := c.postJSON("/upload/init", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Presign calls POST /upload/presign.
func (c *APIClient) Presign(req api.PresignRequest) (*api.PresignResponse, error) {
	var resp api.PresignResponse
	if err := c.postJSON("/upload/presign", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete calls POST /upload/complete.
func (c *APIClient) Complete(req api.CompleteRequest) (*api.CompleteResponse, error) {
	var resp api.CompleteResponse
	if err := c.postJSON("/upload/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abort calls POST /upload/abort.
func (c *APIClient) Abort(uploadID string) error {
	return c.postJSON("/upload/abort", api.AbortRequest{UploadID: uploadID}, nil)
}

// Status calls GET /upload/status.
func (c *APIClient) Status(uploadID string) (*api.StatusResponse, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet,
		c.baseURL+"/upload/status?uploadId="+url.QueryEscape(uploadID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *APIClient) postJSON(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+path, data)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}

// APIError is a non-2xx coordinator response.
type APIError struct {
	StatusCode int
	Message    string

	// Uploaded and Total are set on incomplete-upload rejections.
	Uploaded int
	Total    int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var parsed api.ErrorResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.Uploaded = parsed.Uploaded
			apiErr.Total = parsed.Total
			return apiErr
		}
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
