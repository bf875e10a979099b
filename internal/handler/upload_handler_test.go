package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian/internal/api"
	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/lock"
	"github.com/prn-tf/meridian/internal/repository/memory"
	"github.com/prn-tf/meridian/internal/service"
	"github.com/prn-tf/meridian/internal/storage"
)

// fakeGateway is a canned-response storage.Gateway for handler tests.
type fakeGateway struct {
	completeErr error
}

func (f *fakeGateway) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	return "storage-upload-1", nil
}

func (f *fakeGateway) PresignUploadPart(ctx context.Context, key, storageUploadID string, partNumber int, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://store.example.com/%s?partNumber=%d", key, partNumber), nil
}

func (f *fakeGateway) PresignObjectPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "https://store.example.com/" + key + "?put", nil
}

func (f *fakeGateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.example.com/" + key + "?download", nil
}

func (f *fakeGateway) CompleteMultipartUpload(ctx context.Context, key, storageUploadID string, parts []storage.CompletedPart) (*storage.CompleteResult, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &storage.CompleteResult{ETag: `"final-etag"`}, nil
}

func (f *fakeGateway) AbortMultipartUpload(ctx context.Context, key, storageUploadID string) error {
	return nil
}

func (f *fakeGateway) ObjectExists(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeGateway) ObjectURL(key string) string {
	return "https://store.example.com/" + key
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	uploads := service.NewUploadService(
		memory.NewSessionRepository(),
		&fakeGateway{},
		lock.NewMemoryLocker(),
		nil,
		zerolog.Nop(),
		service.DefaultUploadConfig(),
	)

	router := NewRouter(RouterConfig{
		UploadHandler: NewUploadHandler(uploads, zerolog.Nop()),
		Logger:        zerolog.Nop(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestUploadHandler_Init_Simple(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload/init", api.InitRequest{
		Filename:    "small.txt",
		Filesize:    3 * domain.MiB,
		ContentType: "text/plain",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[api.InitResponse](t, resp)
	require.Equal(t, api.UploadTypeSimple, body.UploadType)
	require.NotEmpty(t, body.PresignedURL)
	require.NotEmpty(t, body.FileURL)
	require.NotEmpty(t, body.Key)
	require.Empty(t, body.UploadID)
}

func TestUploadHandler_Init_Validation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload/init", api.InitRequest{
		Filename:    "",
		Filesize:    domain.MiB,
		ContentType: "text/plain",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	require.Contains(t, body.Error, "filename")
}

func TestUploadHandler_MultipartFlow(t *testing.T) {
	srv := newTestServer(t)

	// Init: 25 MiB -> 3 parts of 10 MiB.
	resp := postJSON(t, srv.URL+"/upload/init", api.InitRequest{
		Filename:    "report.pdf",
		Filesize:    25 * domain.MiB,
		ContentType: "application/pdf",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	initBody := decode[api.InitResponse](t, resp)
	require.Equal(t, api.UploadTypeMultipart, initBody.UploadType)
	require.NotEmpty(t, initBody.UploadID)
	require.Equal(t, int64(10*domain.MiB), initBody.PartSize)
	require.Equal(t, 3, initBody.TotalParts)
	require.Len(t, initBody.PresignedParts, 3)

	// Complete with 2 of 3 -> 400 with counts.
	resp = postJSON(t, srv.URL+"/upload/complete", api.CompleteRequest{
		UploadID: initBody.UploadID,
		Parts: []api.CompletedPart{
			{PartNumber: 1, ETag: `"etag-1"`, Size: 10 * domain.MiB},
			{PartNumber: 2, ETag: `"etag-2"`, Size: 10 * domain.MiB},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errBody := decode[api.ErrorResponse](t, resp)
	require.Equal(t, 2, errBody.Uploaded)
	require.Equal(t, 3, errBody.Total)

	// Status reflects partial progress.
	resp, err := http.Get(srv.URL + "/upload/status?uploadId=" + initBody.UploadID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statusBody := decode[api.StatusResponse](t, resp)
	require.Equal(t, "uploading", statusBody.Status)
	require.Equal(t, []int{1, 2}, statusBody.UploadedPartNumbers)
	require.Equal(t, int64(20*domain.MiB), statusBody.UploadedSize)
	require.Equal(t, int64(5*domain.MiB), statusBody.RemainingSize)

	// Presign a fresh URL for the missing part.
	resp = postJSON(t, srv.URL+"/upload/presign", api.PresignRequest{
		UploadID:    initBody.UploadID,
		PartNumbers: []int{3},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	presignBody := decode[api.PresignResponse](t, resp)
	require.Len(t, presignBody.PresignedParts, 1)
	require.Equal(t, 3, presignBody.PresignedParts[0].PartNumber)

	// Complete with all 3 -> 200 with a fileUrl ending in the key.
	resp = postJSON(t, srv.URL+"/upload/complete", api.CompleteRequest{
		UploadID: initBody.UploadID,
		Parts: []api.CompletedPart{
			{PartNumber: 1, ETag: `"etag-1"`, Size: 10 * domain.MiB},
			{PartNumber: 2, ETag: `"etag-2"`, Size: 10 * domain.MiB},
			{PartNumber: 3, ETag: `"etag-3"`, Size: 5 * domain.MiB},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	completeBody := decode[api.CompleteResponse](t, resp)
	require.Equal(t, "completed", completeBody.Status)
	require.Contains(t, completeBody.FileURL, initBody.Key)
	require.Equal(t, `"final-etag"`, completeBody.ETag)
	require.Equal(t, int64(25*domain.MiB), completeBody.Filesize)

	// Status now reports completed with a download URL.
	resp, err = http.Get(srv.URL + "/upload/status?uploadId=" + initBody.UploadID)
	require.NoError(t, err)
	statusBody = decode[api.StatusResponse](t, resp)
	require.Equal(t, "completed", statusBody.Status)
	require.NotEmpty(t, statusBody.CompletedAt)
	require.NotEmpty(t, statusBody.DownloadURL)
}

func TestUploadHandler_Status_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/upload/status?uploadId=does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadHandler_Status_MissingParam(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/upload/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadHandler_Presign_BatchTooLarge(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload/init", api.InitRequest{
		Filename:    "big.bin",
		Filesize:    500 * domain.MiB,
		ContentType: "application/octet-stream",
	})
	initBody := decode[api.InitResponse](t, resp)

	batch := make([]int, 21)
	for i := range batch {
		batch[i] = i + 1
	}
	resp = postJSON(t, srv.URL+"/upload/presign", api.PresignRequest{
		UploadID:    initBody.UploadID,
		PartNumbers: batch,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadHandler_Abort(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload/init", api.InitRequest{
		Filename:    "report.pdf",
		Filesize:    25 * domain.MiB,
		ContentType: "application/pdf",
	})
	initBody := decode[api.InitResponse](t, resp)

	resp = postJSON(t, srv.URL+"/upload/abort", api.AbortRequest{UploadID: initBody.UploadID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/upload/status?uploadId=" + initBody.UploadID)
	require.NoError(t, err)
	statusBody := decode[api.StatusResponse](t, resp)
	require.Equal(t, "failed", statusBody.Status)
}

func TestUploadHandler_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/upload/init", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
