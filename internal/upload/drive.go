// Package upload sends finalized recordings to remote storage and derives the
// shareable link for the stored object.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// Drive endpoints
const (
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
	DefaultShareBase = "https://drive.google.com/uc"
)

// MIMETypeWAV is the declared type of recorded artifacts
const MIMETypeWAV = "audio/wav"

// maxErrorBody bounds how much of a rejected response ends up in the error
const maxErrorBody = 512

// Request is one multipart upload, built once per recording
type Request struct {
	ArtifactName string
	MIMEType     string
	FolderID     string
	URL          string
	Data         []byte
}

// NewRequest reads the whole file at path into a Request
func NewRequest(path, name, mimeType, folderID, url string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.New(fault.IOFailure, "upload.read", fmt.Errorf("failed to read %s: %w", path, err))
	}

	return &Request{
		ArtifactName: name,
		MIMEType:     mimeType,
		FolderID:     folderID,
		URL:          url,
		Data:         data,
	}, nil
}

// fileMetadata is the JSON part describing the created file
type fileMetadata struct {
	Name     string   `json:"name"`
	MIMEType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
}

// DriveClient posts multipart uploads
type DriveClient struct {
	HTTPClient *http.Client
}

// NewDriveClient creates a client with the given request timeout
func NewDriveClient(timeout time.Duration) *DriveClient {
	return &DriveClient{HTTPClient: &http.Client{Timeout: timeout}}
}

// Upload sends req in a single POST and returns the raw response body.
// It is not idempotent: a retry after a lost response creates a second file.
func (c *DriveClient) Upload(ctx context.Context, req *Request, token string) ([]byte, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, fault.New(fault.UploadFailure, "upload.encode", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL+"?uploadType=multipart", body)
	if err != nil {
		return nil, fault.New(fault.UploadFailure, "upload.post", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", contentType)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fault.New(fault.UploadFailure, "upload.post", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.New(fault.UploadFailure, "upload.post", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fault.Errorf(fault.UploadFailure, "upload.post", "status %d: %s", resp.StatusCode, truncate(respBody, maxErrorBody))
	}

	return respBody, nil
}

// encodeMultipart builds the metadata and file parts
func encodeMultipart(req *Request) (*bytes.Buffer, string, error) {
	meta := fileMetadata{Name: req.ArtifactName, MIMEType: req.MIMEType}
	if req.FolderID != "" {
		meta.Parents = []string{req.FolderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Disposition", `form-data; name="metadata"`)
	metaHeader.Set("Content-Type", "application/json;charset=UTF-8")
	part, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.ArtifactName))
	fileHeader.Set("Content-Type", req.MIMEType)
	part, err = w.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
