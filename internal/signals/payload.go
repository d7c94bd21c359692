package signals

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// MaxFrameBytes bounds a decoded webcam frame.
const MaxFrameBytes = 4 << 20

// DecodePayload decodes a base64 payload, with or without a data-URL prefix
// such as "data:image/jpeg;base64,".
func DecodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidMeasurement)
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidMeasurement)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some browsers strip padding.
		if b, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("%w: payload is not base64", ErrInvalidMeasurement)
		}
	}
	return b, nil
}

// ValidateFrame checks that frame is a decodable jpeg, png or webp image
// and returns its format.
func ValidateFrame(frame []byte) (string, error) {
	if len(frame) == 0 {
		return "", fmt.Errorf("%w: empty frame", ErrInvalidMeasurement)
	}
	if len(frame) > MaxFrameBytes {
		return "", fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrInvalidMeasurement, len(frame))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("%w: undecodable frame: %v", ErrInvalidMeasurement, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return "", fmt.Errorf("%w: frame has no pixels", ErrInvalidMeasurement)
	}
	return format, nil
}
