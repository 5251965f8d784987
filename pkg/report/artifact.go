package report

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"
)

// ErrEmptyArtifact is returned when decoding an artifact without bytes.
var ErrEmptyArtifact = errors.New("artifact has no image data")

// Artifact is a screenshot captured from a live session.
type Artifact struct {
	Label      string    `json:"label"`
	Data       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

func NewArtifact(label string, data []byte) *Artifact {
	return &Artifact{Label: label, Data: data, CapturedAt: time.Now()}
}

func (a *Artifact) Empty() bool {
	return a == nil || len(a.Data) == 0
}

// Base64 returns the standard base64 encoding of the image bytes.
func (a *Artifact) Base64() string {
	if a.Empty() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(a.Data)
}

// Decode validates the bytes as a PNG and returns its dimensions.
func (a *Artifact) Decode() (image.Config, error) {
	if a.Empty() {
		return image.Config{}, ErrEmptyArtifact
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(a.Data))
	if err != nil {
		return image.Config{}, fmt.Errorf("decode artifact %q: %w", a.Label, err)
	}
	return cfg, nil
}

// Diff returns the share of pixels that differ between two PNG screenshots,
// from 0 (identical) to 1. Images of different size differ completely.
func Diff(baseline, current []byte) (float64, error) {
	baselineImg, err := png.Decode(bytes.NewReader(baseline))
	if err != nil {
		return 0, fmt.Errorf("decode baseline: %w", err)
	}
	currentImg, err := png.Decode(bytes.NewReader(current))
	if err != nil {
		return 0, fmt.Errorf("decode screenshot: %w", err)
	}

	bounds := baselineImg.Bounds()
	if bounds != currentImg.Bounds() {
		return 1.0, nil
	}
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0, nil
	}

	different := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !colorsEqual(baselineImg.At(x, y), currentImg.At(x, y)) {
				different++
			}
		}
	}
	return float64(different) / float64(total), nil
}

func colorsEqual(c1, c2 color.Color) bool {
	r1, g1, b1, a1 := c1.RGBA()
	r2, g2, b2, a2 := c2.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}
