// internal/disclosure/render.go
//
// Attempt-indexed pixelation of the target photo.
// Responsibilities:
//   - Map verified attempts onto a fixed reveal tier.
//   - Produce a blocky 350x250 PNG using nearest-neighbour sampling only.
//   - Release the original bytes once the game is over, and only then.
//
// The renderer never sees a request. Callers hand it the bytes of the
// session's own target image together with the session's progress.

package disclosure

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/robalobadob/almadle/internal/game"
)

// Output frame.
const (
	Width  = 350
	Height = 250
)

// Render modes, echoed in the X-Almadle-Mode header.
const (
	ModePixelated = "pixelated"
	ModeOriginal  = "original"
)

// tierWidths is the sample-grid width per attempt; the last entry covers
// every attempt at or beyond its index.
var tierWidths = [...]int{8, 10, 13, 18, 29, 70}

// ErrDecode is returned when the source is not a supported image.
var ErrDecode = errors.New("disclosure: unsupported or corrupt image")

// Tier describes one reveal step.
type Tier struct {
	SmallW      int
	SmallH      int
	PixelFactor int
}

// Small formats the sample grid as "WxH".
func (t Tier) Small() string { return fmt.Sprintf("%dx%d", t.SmallW, t.SmallH) }

// TierFor returns the reveal step for attempts, clamped to [0, MaxAttempts].
func TierFor(attempts int) Tier {
	attempts = max(0, min(game.MaxAttempts, attempts))
	w := tierWidths[min(len(tierWidths)-1, attempts)]
	return Tier{
		SmallW:      w,
		SmallH:      max(1, int(math.Round(float64(w)*Height/Width))),
		PixelFactor: max(1, Width/w),
	}
}

// Result is a rendered response body plus the metadata the HTTP layer echoes.
type Result struct {
	Bytes       []byte
	ContentType string
	Mode        string
	Tier        Tier // zero for originals
}

// Render produces the image a player at (attempts, state) may see.
// Terminal states get src untouched; everything else gets the pixelated tier.
func Render(src []byte, attempts int, state game.State) (Result, error) {
	if state.Terminal() {
		return Result{
			Bytes:       src,
			ContentType: mimetype.Detect(src).String(),
			Mode:        ModeOriginal,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	t := TierFor(attempts)
	out := pixelate(img, t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return Result{}, fmt.Errorf("disclosure: encode: %w", err)
	}
	return Result{
		Bytes:       buf.Bytes(),
		ContentType: "image/png",
		Mode:        ModePixelated,
		Tier:        t,
	}, nil
}

// pixelate runs cover-crop, downsample and upsample, all nearest-neighbour.
func pixelate(src image.Image, t Tier) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.NearestNeighbor.Scale(frame, frame.Bounds(), src, coverRect(src.Bounds()), draw.Src, nil)

	small := image.NewRGBA(image.Rect(0, 0, t.SmallW, t.SmallH))
	draw.NearestNeighbor.Scale(small, small.Bounds(), frame, frame.Bounds(), draw.Src, nil)

	out := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.NearestNeighbor.Scale(out, out.Bounds(), small, small.Bounds(), draw.Src, nil)
	return out
}

// coverRect returns the centred region of b with the output aspect ratio, so
// scaling it to the frame fills the frame without distortion.
func coverRect(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w*Height > h*Width {
		cw := max(1, h*Width/Height)
		x0 := b.Min.X + (w-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := max(1, w*Height/Width)
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}
