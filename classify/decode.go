package classify

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedImage = errors.New("unsupported image")

// DecodedImage is an upload that passed content sniffing and decoding.
type DecodedImage struct {
	Image       image.Image
	Format      string
	ContentType string
}

// DecodeImage sniffs data, rejects anything that is not image/*, and decodes
// it honouring EXIF orientation.
func DecodeImage(data []byte) (*DecodedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnsupportedImage)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: content type %s", ErrUnsupportedImage, contentType)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	return &DecodedImage{
		Image:       img,
		Format:      format,
		ContentType: contentType,
	}, nil
}
