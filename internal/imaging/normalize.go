// Package imaging converts downloaded image payloads to PNG.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNotRaster is returned when the payload is not a decodable raster image.
var ErrNotRaster = errors.New("imaging: payload is not a raster image")

// Normalize decodes data in any registered format and re-encodes it as PNG.
// PNG input is re-encoded too, so every output has the same encoding.
func Normalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrNotRaster)
	}
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "text/") || ct == "application/json" {
		return nil, fmt.Errorf("%w: %s", ErrNotRaster, ct)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotRaster, ct, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Format reports the registered decoder name for data, or "" if none matches.
func Format(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return format
}
