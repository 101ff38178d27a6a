package printer

import (
	"image"
	"photobooth-kiosk/internal/imaging"
)

// DefaultRasterWidth fits 58mm paper.
const DefaultRasterWidth = 680

// Bitmap is a packed 1-bit raster, MSB first, 1 = black dot.
type Bitmap struct {
	WidthBytes int
	Height     int
	Data       []byte
}

// Rasterize resizes img to width, converts it to luminance and dithers it
// into a packed bitmap.
func Rasterize(img image.Image, width int) Bitmap {
	if width <= 0 {
		width = DefaultRasterWidth
	}
	rgba := imaging.Flatten(imaging.ResizeToWidth(img, width))
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	return Pack(Dither(Grayscale(rgba), w, h), w, h)
}

// Grayscale returns 0.299R + 0.587G + 0.114B per pixel, row major.
func Grayscale(img *image.RGBA) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			out[y*w+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}
	return out
}

// Dither applies Floyd-Steinberg error diffusion and reports black pixels.
// Accumulated values are clamped to [0,255].
func Dither(gray []float64, w, h int) []bool {
	buf := append([]float64(nil), gray...)
	black := make([]bool, w*h)

	spread := func(x, y int, err float64) {
		if x < 0 || x >= w || y >= h {
			return
		}
		i := y*w + x
		buf[i] = clamp(buf[i] + err)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			old := buf[i]
			next := 255.0
			if old < 128 {
				next = 0
				black[i] = true
			}
			e := old - next

			spread(x+1, y, e*7/16)
			spread(x-1, y+1, e*3/16)
			spread(x, y+1, e*5/16)
			spread(x+1, y+1, e*1/16)
		}
	}
	return black
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return v
	}
}

// Pack packs 8 pixels per byte, MSB first, padding each row to a whole byte.
func Pack(black []bool, w, h int) Bitmap {
	widthBytes := (w + 7) / 8
	data := make([]byte, widthBytes*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if black[y*w+x] {
				data[y*widthBytes+x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return Bitmap{WidthBytes: widthBytes, Height: h, Data: data}
}
