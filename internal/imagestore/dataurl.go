package imagestore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	dataURLScheme   = "data:"
	base64Indicator = ";base64"
)

var (
	// ErrInvalidDataURL reports a payload that is not a decodable base64 data URL.
	ErrInvalidDataURL = errors.New("invalid image data url")
	// ErrUnsupportedFormat reports an image format outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

var (
	watermelonExtensions = map[string]bool{
		"jpeg": true,
		"jpg":  true,
		"png":  true,
		"gif":  true,
	}
	polaroidExtensions = map[string]bool{
		"jpeg": true,
		"jpg":  true,
		"png":  true,
		"gif":  true,
		"webp": true,
	}
)

// DecodedImage is the result of parsing an uploaded data URL.
type DecodedImage struct {
	Data        []byte
	Extension   string
	ContentType string
}

// DecodeWatermelonImage parses a data URL against the watermelon allow-list.
func DecodeWatermelonImage(payload string) (DecodedImage, error) {
	return decodeDataURL(payload, watermelonExtensions)
}

// DecodePolaroidImage parses a data URL against the polaroid allow-list,
// which additionally accepts webp.
func DecodePolaroidImage(payload string) (DecodedImage, error) {
	return decodeDataURL(payload, polaroidExtensions)
}

// decodeDataURL accepts only data:<mime>;base64,<data> payloads. The file
// extension is the MIME subtype, checked against the allow-list before any
// decoding work happens.
func decodeDataURL(payload string, allowedExtensions map[string]bool) (DecodedImage, error) {
	header, encoded, found := strings.Cut(payload, ",")
	if !found {
		return DecodedImage{}, ErrInvalidDataURL
	}
	if !strings.HasPrefix(header, dataURLScheme) || !strings.Contains(header, base64Indicator) {
		return DecodedImage{}, ErrInvalidDataURL
	}

	contentType := strings.TrimPrefix(strings.SplitN(header, ";", 2)[0], dataURLScheme)
	slash := strings.LastIndex(contentType, "/")
	if slash < 1 || slash == len(contentType)-1 {
		return DecodedImage{}, ErrInvalidDataURL
	}
	extension := strings.ToLower(contentType[slash+1:])
	if !allowedExtensions[extension] {
		return DecodedImage{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, extension)
	}

	data, decodeErr := base64.StdEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return DecodedImage{}, fmt.Errorf("%w: %s", ErrInvalidDataURL, decodeErr)
	}
	if len(data) == 0 {
		return DecodedImage{}, ErrInvalidDataURL
	}

	return DecodedImage{Data: data, Extension: extension, ContentType: contentType}, nil
}
