package attachment_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/kartoza/bridge-predict/internal/attachment"
	"github.com/kartoza/bridge-predict/internal/testutil"
)

func TestDecodePNG(t *testing.T) {
	data := testutil.PNG(t, 10, 10)

	a, err := attachment.Decode(data, "image/png", "bridge.png")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if a.Width != 10 || a.Height != 10 {
		t.Errorf("Expected 10x10, got %dx%d", a.Width, a.Height)
	}
	if a.MIMEType != "image/png" {
		t.Errorf("Expected image/png, got %s", a.MIMEType)
	}
	if a.Size != len(data) {
		t.Errorf("Expected size %d, got %d", len(data), a.Size)
	}
	if !strings.HasPrefix(a.Preview, "data:image/png;base64,") {
		t.Errorf("Unexpected preview prefix: %.40s", a.Preview)
	}

	// Payload is copied, not aliased
	data[0] = 0
	if a.Data[0] == 0 {
		t.Error("Expected attachment to own its payload")
	}
}

func TestDecodeSniffsMissingMIME(t *testing.T) {
	a, err := attachment.Decode(testutil.JPEG(t, 40, 20), "", "")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if a.MIMEType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", a.MIMEType)
	}
	if a.Filename != "bridge.jpeg" {
		t.Errorf("Expected generated filename, got %q", a.Filename)
	}
}

func TestDecodeLargeImageShrinksPreview(t *testing.T) {
	a, err := attachment.Decode(testutil.PNG(t, 1200, 600), "image/png", "big.png")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	_, preview, err := attachment.ParseDataURL(a.Preview)
	if err != nil {
		t.Fatalf("ParseDataURL failed: %v", err)
	}
	if len(preview) >= a.Size {
		t.Errorf("Expected preview (%d bytes) smaller than original (%d bytes)", len(preview), a.Size)
	}
}

func TestDecodeRejectsNonImage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty", nil, "image/png"},
		{"text", []byte("hello bridge"), "text/plain"},
		{"corrupt png", []byte("\x89PNG\r\n\x1a\nnot really"), "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := attachment.Decode(tt.data, tt.mime, "x")
			if !errors.Is(err, attachment.ErrUnsupportedImage) {
				t.Errorf("Expected ErrUnsupportedImage, got %v", err)
			}
		})
	}
}

func TestParseDataURL(t *testing.T) {
	url := attachment.DataURL("image/png", []byte{1, 2, 3})

	mime, data, err := attachment.ParseDataURL(url)
	if err != nil {
		t.Fatalf("ParseDataURL failed: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("Expected image/png, got %s", mime)
	}
	if len(data) != 3 || data[2] != 3 {
		t.Errorf("Unexpected payload %v", data)
	}

	for _, bad := range []string{"", "data:image/png,abc", "image/png;base64,AAAA", "data:image/png;base64,@@@"} {
		if _, _, err := attachment.ParseDataURL(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
