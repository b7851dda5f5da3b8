package desktop

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"
	"time"

	"golang.org/x/image/draw"
)

type ScaleMode string

const (
	// ScaleFit shrinks the frame to fit inside the target box, keeping the
	// aspect ratio. Frames already inside the box are left alone.
	ScaleFit ScaleMode = "fit"
	// ScaleExact stretches the frame to exactly the target size.
	ScaleExact ScaleMode = "exact"
)

// StreamConfig is fixed for the lifetime of one session.
type StreamConfig struct {
	FPS          int       `json:"fps"`
	Quality      int       `json:"quality"`
	TargetWidth  int       `json:"targetWidth"`  // 0 disables resize
	TargetHeight int       `json:"targetHeight"` // 0 disables resize
	ScaleMode    ScaleMode `json:"scaleMode"`
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		FPS:          15,
		Quality:      60,
		TargetWidth:  1280,
		TargetHeight: 720,
		ScaleMode:    ScaleFit,
	}
}

// Normalized clamps every field into its valid range.
func (c StreamConfig) Normalized() StreamConfig {
	c.FPS = clampInt(c.FPS, 1, 60)
	c.Quality = clampInt(c.Quality, 1, 100)
	if c.TargetWidth <= 0 || c.TargetHeight <= 0 {
		c.TargetWidth, c.TargetHeight = 0, 0
	}
	switch ScaleMode(strings.ToLower(string(c.ScaleMode))) {
	case ScaleExact:
		c.ScaleMode = ScaleExact
	default:
		c.ScaleMode = ScaleFit
	}
	return c
}

// Encoded is the output of FrameEncoder.Encode.
type Encoded struct {
	Data       string // base64 of the JPEG bytes
	Size       int    // JPEG byte length
	Width      int
	Height     int
	ScaleTime  time.Duration
	EncodeTime time.Duration
}

// FrameEncoder turns raw RGBA captures into base64 JPEG payloads.
// It is not safe for concurrent use; each session owns one.
type FrameEncoder struct {
	cfg    StreamConfig
	scaled imagePool
}

func NewFrameEncoder(cfg StreamConfig) *FrameEncoder {
	return &FrameEncoder{cfg: cfg.Normalized()}
}

// Encode flattens alpha, resizes if configured, compresses and base64s img.
// img is modified in place.
func (e *FrameEncoder) Encode(img *image.RGBA) (Encoded, error) {
	if img == nil || img.Bounds().Empty() {
		return Encoded{}, fmt.Errorf("encode: empty frame")
	}
	flattenAlpha(img)

	t0 := time.Now()
	out := img
	w, h := targetSize(img.Bounds().Dx(), img.Bounds().Dy(), e.cfg)
	if w != img.Bounds().Dx() || h != img.Bounds().Dy() {
		out = e.scaled.Get(w, h)
		defer e.scaled.Put(out)
		draw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	}
	scaleTime := time.Since(t0)

	t1 := time.Now()
	buf := getBuffer()
	defer putBuffer(buf)
	if err := jpeg.Encode(buf, out, &jpeg.Options{Quality: e.cfg.Quality}); err != nil {
		return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
	}
	data := base64.StdEncoding.EncodeToString(buf.Bytes())

	return Encoded{
		Data:       data,
		Size:       buf.Len(),
		Width:      w,
		Height:     h,
		ScaleTime:  scaleTime,
		EncodeTime: time.Since(t1),
	}, nil
}

// flattenAlpha makes every pixel opaque. RGBA is alpha-premultiplied, so
// forcing A to 0xff composites the frame onto black.
func flattenAlpha(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 3; i < len(row); i += 4 {
			row[i] = 0xff
		}
	}
}

// targetSize computes the output dimensions for a w x h source.
func targetSize(w, h int, cfg StreamConfig) (int, int) {
	tw, th := cfg.TargetWidth, cfg.TargetHeight
	if tw <= 0 || th <= 0 {
		return w, h
	}
	if cfg.ScaleMode == ScaleExact {
		return tw, th
	}
	scale := math.Min(float64(tw)/float64(w), float64(th)/float64(h))
	if scale >= 1 {
		return w, h
	}
	return max(1, int(math.Round(float64(w)*scale))), max(1, int(math.Round(float64(h)*scale)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
