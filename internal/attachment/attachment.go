package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/nfnt/resize"
)

// PreviewSize is the maximum width and height of a preview thumbnail
const PreviewSize = 320

// ErrUnsupportedImage is returned for payloads that are not PNG, JPEG or GIF
var ErrUnsupportedImage = errors.New("unsupported image format")

// Attachment is an uploaded bridge photograph together with its preview.
// Attachments are never modified after Decode returns them.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Preview  string `json:"preview"`
	Data     []byte `json:"-"`
}

// Decode validates the payload as an image and builds its preview data URL
func Decode(data []byte, mimeType, filename string) (*Attachment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload: %w", ErrUnsupportedImage)
	}

	mimeType = normalizeMIME(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s: %w", mimeType, ErrUnsupportedImage)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", errors.Join(ErrUnsupportedImage, err))
	}

	preview, err := previewURL(img)
	if err != nil {
		return nil, err
	}

	if filename == "" {
		filename = "bridge." + format
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	bounds := img.Bounds()
	return &Attachment{
		Filename: filename,
		MIMEType: "image/" + format,
		Size:     len(data),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Preview:  preview,
		Data:     payload,
	}, nil
}

// previewURL shrinks img to fit PreviewSize and encodes it as a PNG data URL
func previewURL(img image.Image) (string, error) {
	thumb := resize.Thumbnail(PreviewSize, PreviewSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	return DataURL("image/png", buf.Bytes()), nil
}

// DataURL renders data as a base64 data URL
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data URL into its MIME type and payload.
// Format: data:image/jpeg;base64,/9j/4AAQ...
func ParseDataURL(dataURL string) (string, []byte, error) {
	parts := strings.SplitN(dataURL, ",", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "data:") {
		return "", nil, fmt.Errorf("invalid data URL format")
	}

	header := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(header, ";base64") {
		return "", nil, fmt.Errorf("data URL is not base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	return strings.TrimSuffix(header, ";base64"), data, nil
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}
