package forge

import (
	"encoding/base64"
	"strings"
)

// decodeBase64 decodes GitHub's contents API encoding, which line-wraps
// the base64 payload.
func decodeBase64(s string) (string, error) {
	cleaned := strings.ReplaceAll(s, "\n", "")
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
