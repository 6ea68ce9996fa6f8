package design

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// EncodeDataURL converts a blob into a base64 data URL.
func EncodeDataURL(b Blob) string {
	return fmt.Sprintf("data:%s;base64,%s", contentTypeOf(b.ContentType, b.Data), EncodeRaw(b))
}

// EncodeRaw converts a blob into plain base64 without a data URL prefix.
func EncodeRaw(b Blob) string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// EncodeAll encodes every blob as a data URL, keeping order.
func EncodeAll(blobs []Blob) []string {
	out := make([]string, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, EncodeDataURL(b))
	}
	return out
}

// StripDataURLPrefix returns the base64 payload of a data URL. Plain base64
// input is returned unchanged.
func StripDataURLPrefix(s string) string {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			return s[idx+1:]
		}
	}
	return s
}

// DecodeImage decodes a base64 (or data URL) payload into an image resource.
func DecodeImage(payload string) (*Image, error) {
	raw := strings.TrimSpace(StripDataURLPrefix(payload))
	if raw == "" {
		return nil, ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Some models return unpadded payloads.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return &Image{ContentType: http.DetectContentType(data), Data: data}, nil
}

// NewBlob builds a blob from uploaded bytes, sniffing the content type when
// the caller does not know it.
func NewBlob(contentType string, data []byte) (Blob, error) {
	if len(data) == 0 {
		return Blob{}, ErrEmptyImage
	}
	return Blob{ContentType: contentTypeOf(contentType, data), Data: data}, nil
}

func contentTypeOf(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}
