package upload

import (
	"context"

	"github.com/tdu-cpslab/volp/internal/auth"
)

// Store uploads a finalized artifact and returns its shareable link
type Store interface {
	Store(ctx context.Context, path, name string) (string, error)
}

// DriveStore stores artifacts in a Drive folder
type DriveStore struct {
	Tokens    auth.TokenSource
	Client    *DriveClient
	FolderID  string
	UploadURL string
	ShareBase string
	MIMEType  string
}

// Store implements Store
func (s *DriveStore) Store(ctx context.Context, path, name string) (string, error) {
	token, err := s.Tokens.Token(ctx, auth.DriveFileScope)
	if err != nil {
		return "", err
	}

	req, err := NewRequest(path, name, s.mimeType(), s.FolderID, s.uploadURL())
	if err != nil {
		return "", err
	}

	client := s.Client
	if client == nil {
		client = &DriveClient{}
	}

	descriptor, err := client.Upload(ctx, req, token)
	if err != nil {
		return "", err
	}

	return ExtractLink(descriptor, s.shareBase())
}

func (s *DriveStore) mimeType() string {
	if s.MIMEType == "" {
		return MIMETypeWAV
	}
	return s.MIMEType
}

func (s *DriveStore) uploadURL() string {
	if s.UploadURL == "" {
		return DefaultUploadURL
	}
	return s.UploadURL
}

func (s *DriveStore) shareBase() string {
	if s.ShareBase == "" {
		return DefaultShareBase
	}
	return s.ShareBase
}
