package classify

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"
)

func TestDecodeImagePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 5, 7))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeImage(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if decoded.Format != "png" || decoded.ContentType != "image/png" {
		t.Fatalf("unexpected format %q / %q", decoded.Format, decoded.ContentType)
	}
	if b := decoded.Image.Bounds(); b.Dx() != 5 || b.Dy() != 7 {
		t.Fatalf("unexpected bounds %v", b)
	}
}

func TestDecodeImageRejectsNonImage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("hello, not an image"), []byte("\x89PNG\r\n\x1a\ntruncated")} {
		if _, err := DecodeImage(data); !errors.Is(err, ErrUnsupportedImage) {
			t.Fatalf("expected ErrUnsupportedImage for %q, got %v", data, err)
		}
	}
}
