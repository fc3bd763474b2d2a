package embedding

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DecodeImagePayload decodes a base64 image, with or without a data URI
// prefix such as "data:image/jpeg;base64,".
func DecodeImagePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	if s == "" {
		return nil, errors.New("empty image payload")
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Browsers sometimes strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("decode base64 image: %w", err)
		}
	}
	return data, nil
}

// EncodeDataURI encodes data as a base64 data URI with the given MIME type.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
