package tips

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Image is an attachment as received from the client, before encoding.
type Image struct {
	ContentType string
	Data        []byte
}

// DataURL renders the image as a base64 data URL.
func (img Image) DataURL() string {
	return "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ParseDataURL decodes a base64 data URL into an Image. It does not enforce
// the size limit; Submit does.
func ParseDataURL(s string) (Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: image is not a data URL", ErrValidation)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: malformed data URL", ErrValidation)
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return Image{}, fmt.Errorf("%w: data URL must be base64 encoded", ErrValidation)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: decode image: %v", ErrValidation, err)
	}
	return Image{ContentType: contentType, Data: data}, nil
}

func (e *Engine) encodeImage(img *Image) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", nil
	}
	if len(img.Data) > e.cfg.MaxImageBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(img.Data), e.cfg.MaxImageBytes)
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: attachment is %s, not an image", ErrValidation, contentType)
	}
	return Image{ContentType: contentType, Data: img.Data}.DataURL(), nil
}
