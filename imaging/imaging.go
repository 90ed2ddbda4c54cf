// Package imaging re-encodes uploaded screenshots as bounded JPEGs.
//
// Inputs may be bare base64 payloads or fully prefixed data-URIs; output is
// always a "data:image/jpeg;base64," URI. Images larger than the configured
// dimension bound are downscaled preserving aspect ratio, then re-encoded at
// decreasing JPEG quality until the byte target is met or the quality floor
// is reached.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"

	"golang.org/x/image/draw"

	// Decoders for the formats browsers hand us.
	_ "image/gif"
	_ "image/png"
)

// ErrDecode is returned when the source image cannot be decoded (corrupt or
// unsupported format). Callers distinguish it from generic compression
// failures to produce a different user message.
var ErrDecode = errors.New("imaging: source image cannot be decoded")

const dataURIPrefix = "data:image/jpeg;base64,"

// Config configures a Compressor.
type Config struct {
	// MaxDimension bounds the larger pixel dimension. Default: 800.
	MaxDimension int `json:"max_dimension" yaml:"max_dimension"`

	// StartQuality is the initial JPEG quality (1-100). Default: 70.
	StartQuality int `json:"start_quality" yaml:"start_quality"`

	// MinQuality is the quality floor. Default: 10.
	MinQuality int `json:"min_quality" yaml:"min_quality"`

	// QualityStep is the per-iteration quality decrement. Default: 10.
	QualityStep int `json:"quality_step" yaml:"quality_step"`

	// Logger for per-image diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxDimension <= 0 {
		c.MaxDimension = 800
	}
	if c.StartQuality <= 0 {
		c.StartQuality = 70
	}
	if c.MinQuality <= 0 {
		c.MinQuality = 10
	}
	if c.QualityStep <= 0 {
		c.QualityStep = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Compressor re-encodes images to a byte budget.
type Compressor struct {
	cfg Config
}

// New creates a Compressor.
func New(cfg Config) *Compressor {
	cfg.defaults()
	return &Compressor{cfg: cfg}
}

// Compress decodes input, bounds its dimensions, and re-encodes it as a JPEG
// at or under targetKB kilobytes where possible. If the target is still
// exceeded at the quality floor, the floor-quality result is returned rather
// than looping forever.
func (c *Compressor) Compress(input string, targetKB int) (string, error) {
	raw, err := decodeBase64Input(input)
	if err != nil {
		return "", err
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img = c.bound(img)

	targetBytes := targetKB * 1024
	var buf bytes.Buffer
	quality := c.cfg.StartQuality
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", fmt.Errorf("imaging: jpeg encode at quality %d: %w", quality, err)
		}
		if buf.Len() <= targetBytes || quality <= c.cfg.MinQuality {
			break
		}
		quality -= c.cfg.QualityStep
		if quality < c.cfg.MinQuality {
			quality = c.cfg.MinQuality
		}
	}

	if buf.Len() > targetBytes {
		c.cfg.Logger.Debug("image still over target at quality floor",
			"format", format, "bytes", buf.Len(), "target", targetBytes)
	}

	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// bound downscales img so its larger dimension equals MaxDimension,
// preserving aspect ratio. Smaller images pass through untouched.
func (c *Compressor) bound(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	max := c.cfg.MaxDimension
	if w <= max && h <= max {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = max
		nh = h * max / w
	} else {
		nh = max
		nw = w * max / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// decodeBase64Input accepts a bare base64 payload or a data-URI and returns
// the decoded bytes.
func decodeBase64Input(input string) ([]byte, error) {
	payload := input
	if strings.HasPrefix(input, "data:") {
		idx := strings.Index(input, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: data-URI without payload separator", ErrDecode)
		}
		payload = input[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	return raw, nil
}
