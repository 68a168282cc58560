package upload

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// ExtractLink derives the shareable link from an upload response descriptor.
// No link is produced unless the descriptor carries a non-empty string id.
func ExtractLink(descriptor []byte, shareBase string) (string, error) {
	var desc map[string]interface{}
	if err := json.Unmarshal(descriptor, &desc); err != nil {
		return "", fault.New(fault.UploadFailure, "upload.descriptor", fmt.Errorf("malformed response: %w", err))
	}

	raw, ok := desc["id"]
	if !ok {
		return "", fault.Errorf(fault.MissingObjectID, "upload.descriptor", "response has no id field")
	}

	id, ok := raw.(string)
	if !ok {
		return "", fault.Errorf(fault.MissingObjectID, "upload.descriptor", "id is %T, not a string", raw)
	}
	if id == "" {
		return "", fault.Errorf(fault.MissingObjectID, "upload.descriptor", "id is empty")
	}

	return shareBase + "?id=" + url.QueryEscape(id), nil
}
