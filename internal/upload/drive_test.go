package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tdu-cpslab/volp/internal/auth"
	"github.com/tdu-cpslab/volp/internal/fault"
)

type capturedUpload struct {
	method      string
	query       string
	auth        string
	metaType    string
	meta        fileMetadata
	fileType    string
	fileName    string
	fileContent []byte
}

func driveStub(t *testing.T, status int, response string, got *capturedUpload) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")

		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("Expected multipart body: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("Failed to read part: %v", err)
				return
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "metadata":
				got.metaType = part.Header.Get("Content-Type")
				if err := json.Unmarshal(data, &got.meta); err != nil {
					t.Errorf("Metadata is not JSON: %v", err)
				}
			case "file":
				got.fileType = part.Header.Get("Content-Type")
				got.fileName = part.FileName()
				got.fileContent = data
			default:
				t.Errorf("Unexpected part %q", part.FormName())
			}
		}

		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
}

func writeArtifact(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-05-01-12-00-00.wav")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewRequest(t *testing.T) {
	content := []byte("RIFF....WAVE")
	path := writeArtifact(t, content)

	req, err := NewRequest(path, "a.wav", MIMETypeWAV, "folder1", DefaultUploadURL)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if !bytes.Equal(req.Data, content) {
		t.Error("Request data does not match the file")
	}
	if req.ArtifactName != "a.wav" || req.FolderID != "folder1" || req.URL != DefaultUploadURL {
		t.Errorf("Unexpected request fields: %+v", req)
	}
}

func TestNewRequest_MissingFile(t *testing.T) {
	_, err := NewRequest(filepath.Join(t.TempDir(), "gone.wav"), "gone.wav", MIMETypeWAV, "", DefaultUploadURL)
	if !errors.Is(err, fault.ErrIOFailure) {
		t.Errorf("Expected IOFailure, got %v", err)
	}
}

func TestDriveClient_Upload(t *testing.T) {
	var got capturedUpload
	server := driveStub(t, http.StatusOK, `{"kind":"drive#file","id":"abc123"}`, &got)
	defer server.Close()

	content := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	req := &Request{ArtifactName: "x.wav", MIMEType: MIMETypeWAV, FolderID: "folder1", URL: server.URL + "/upload/drive/v3/files", Data: content}

	body, err := NewDriveClient(5*time.Second).Upload(context.Background(), req, "tok")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if string(body) != `{"kind":"drive#file","id":"abc123"}` {
		t.Errorf("Expected raw descriptor, got %s", body)
	}
	if got.method != http.MethodPost {
		t.Errorf("Expected POST, got %s", got.method)
	}
	if got.query != "uploadType=multipart" {
		t.Errorf("Expected uploadType=multipart, got %q", got.query)
	}
	if got.auth != "Bearer tok" {
		t.Errorf("Expected bearer token, got %q", got.auth)
	}
	if got.metaType != "application/json;charset=UTF-8" {
		t.Errorf("Unexpected metadata content type %q", got.metaType)
	}
	if got.meta.Name != "x.wav" || got.meta.MIMEType != MIMETypeWAV {
		t.Errorf("Unexpected metadata %+v", got.meta)
	}
	if len(got.meta.Parents) != 1 || got.meta.Parents[0] != "folder1" {
		t.Errorf("Expected parents [folder1], got %v", got.meta.Parents)
	}
	if got.fileType != MIMETypeWAV || got.fileName != "x.wav" {
		t.Errorf("Unexpected file part type=%q name=%q", got.fileType, got.fileName)
	}
	if !bytes.Equal(got.fileContent, content) {
		t.Error("File part does not match request data")
	}
}

func TestDriveClient_Rejected(t *testing.T) {
	var got capturedUpload
	server := driveStub(t, http.StatusForbidden, `{"error":{"code":403,"message":"insufficient permissions"}}`, &got)
	defer server.Close()

	req := &Request{ArtifactName: "x.wav", MIMEType: MIMETypeWAV, URL: server.URL, Data: []byte("x")}
	_, err := (&DriveClient{}).Upload(context.Background(), req, "tok")
	if !errors.Is(err, fault.ErrUploadFailure) {
		t.Fatalf("Expected UploadFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "insufficient permissions") {
		t.Errorf("Expected status and body in error, got %v", err)
	}
}

func TestDriveClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	req := &Request{ArtifactName: "x.wav", MIMEType: MIMETypeWAV, URL: url, Data: []byte("x")}
	_, err := (&DriveClient{}).Upload(context.Background(), req, "tok")
	if !errors.Is(err, fault.ErrUploadFailure) {
		t.Errorf("Expected UploadFailure, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("short"), 10); got != "short" {
		t.Errorf("Expected short, got %q", got)
	}
	if got := truncate([]byte("0123456789abc"), 10); got != "0123456789..." {
		t.Errorf("Expected truncated body, got %q", got)
	}
}

func TestDriveStore_Store(t *testing.T) {
	var got capturedUpload
	server := driveStub(t, http.StatusOK, `{"id":"file42"}`, &got)
	defer server.Close()

	store := &DriveStore{
		Tokens:    auth.Static("tok"),
		Client:    NewDriveClient(5 * time.Second),
		FolderID:  "folder1",
		UploadURL: server.URL,
	}

	link, err := store.Store(context.Background(), writeArtifact(t, []byte("RIFF")), "2024-05-01-12-00-00.wav")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if link != "https://drive.google.com/uc?id=file42" {
		t.Errorf("Unexpected link %q", link)
	}
	if got.meta.Name != "2024-05-01-12-00-00.wav" {
		t.Errorf("Expected artifact name in metadata, got %q", got.meta.Name)
	}
}

func TestDriveStore_Failures(t *testing.T) {
	var got capturedUpload
	missingID := driveStub(t, http.StatusOK, `{"kind":"drive#file"}`, &got)
	defer missingID.Close()

	artifact := writeArtifact(t, []byte("RIFF"))

	tests := []struct {
		name  string
		store *DriveStore
		path  string
		want  error
	}{
		{"no token", &DriveStore{Tokens: auth.Static(""), UploadURL: missingID.URL}, artifact, fault.ErrAuthFailure},
		{"missing file", &DriveStore{Tokens: auth.Static("tok"), UploadURL: missingID.URL}, filepath.Join(t.TempDir(), "nope.wav"), fault.ErrIOFailure},
		{"missing id", &DriveStore{Tokens: auth.Static("tok"), UploadURL: missingID.URL}, artifact, fault.ErrMissingObjectID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := tt.store.Store(context.Background(), tt.path, "a.wav")
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if link != "" {
				t.Errorf("Expected no link on failure, got %q", link)
			}
		})
	}
}
