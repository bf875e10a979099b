// Package api defines the JSON wire types of the upload protocol, shared by
// the server handlers and the client uploader.
package api

// Upload types returned by InitResponse.UploadType.
const (
	UploadTypeSimple    = "simple"
	UploadTypeMultipart = "multipart"
)

// InitRequest is the body of POST /upload/init.
type InitRequest struct {
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	ContentType string `json:"contentType"`
	Mode        string `json:"mode"`
}

// PresignedPart pairs a part number with its presigned PUT URL.
type PresignedPart struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// InitResponse is the response of POST /upload/init. For files under the
// simple-upload threshold only Key, PresignedURL and FileURL are set; for
// multipart uploads the session fields are set instead.
type InitResponse struct {
	UploadType string `json:"uploadType"`

	// Simple path.
	PresignedURL string `json:"presignedUrl,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`

	// Multipart path.
	UploadID       string          `json:"uploadId,omitempty"`
	PartSize       int64           `json:"partSize,omitempty"`
	TotalParts     int             `json:"totalParts,omitempty"`
	PresignedParts []PresignedPart `json:"presignedParts,omitempty"`

	Key string `json:"key"`
}

// PresignRequest is the body of POST /upload/presign.
type PresignRequest struct {
	UploadID    string `json:"uploadId"`
	PartNumbers []int  `json:"partNumbers"`
}

// PresignResponse is the response of POST /upload/presign.
type PresignResponse struct {
	PresignedParts []PresignedPart `json:"presignedParts"`
}

// CompletedPart is one part reported to POST /upload/complete.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size,omitempty"`
}

// CompleteRequest is the body of POST /upload/complete.
type CompleteRequest struct {
	UploadID string          `json:"uploadId"`
	Parts    []CompletedPart `json:"parts"`
}

// CompleteResponse is the response of POST /upload/complete.
type CompleteResponse struct {
	Status     string `json:"status"`
	FileURL    string `json:"fileUrl"`
	Key        string `json:"key"`
	ETag       string `json:"etag"`
	TotalParts int    `json:"totalParts"`
	Filesize   int64  `json:"filesize"`
}

// AbortRequest is the body of POST /upload/abort.
type AbortRequest struct {
	UploadID string `json:"uploadId"`
}

// StatusResponse is the response of GET /upload/status.
type StatusResponse struct {
	UploadID            string  `json:"uploadId"`
	Status              string  `json:"status"`
	Filename            string  `json:"filename"`
	Filesize            int64   `json:"filesize"`
	TotalParts          int     `json:"totalParts"`
	UploadedPartNumbers []int   `json:"uploadedPartNumbers"`
	Percentage          float64 `json:"percentage"`
	UploadedSize        int64   `json:"uploadedSize"`
	RemainingSize       int64   `json:"remainingSize"`
	CreatedAt           string  `json:"createdAt"`
	CompletedAt         string  `json:"completedAt,omitempty"`
	DownloadURL         string  `json:"downloadUrl,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`

	// Uploaded and Total are set on incomplete-upload rejections so the
	// client can tell how many parts are still missing.
	Uploaded int `json:"uploaded,omitempty"`
	Total    int `json:"total,omitempty"`
}
