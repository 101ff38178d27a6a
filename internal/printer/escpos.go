package printer

import (
	"bytes"
	"image"
)

const (
	esc = 0x1B
	gs  = 0x1D
	lf  = 0x0A
)

var (
	cmdInit        = []byte{esc, '@'}
	cmdAlignCenter = []byte{esc, 'a', 1}
	cmdAlignLeft   = []byte{esc, 'a', 0}
	cmdRaster      = []byte{gs, 'v', '0', 0}
	cmdCut         = []byte{gs, 'V', 0}
)

// EncodeRaster wraps bmp in ESC/POS raster commands:
// init, center, GS v 0 header, payload, cut, line feed, left align.
func EncodeRaster(bmp Bitmap) []byte {
	var buf bytes.Buffer
	buf.Grow(len(bmp.Data) + 24)

	buf.Write(cmdInit)
	buf.Write(cmdAlignCenter)
	buf.Write(cmdRaster)
	buf.Write([]byte{
		byte(bmp.WidthBytes), byte(bmp.WidthBytes >> 8),
		byte(bmp.Height), byte(bmp.Height >> 8),
	})
	buf.Write(bmp.Data)
	buf.Write(cmdCut)
	buf.WriteByte(lf)
	buf.Write(cmdAlignLeft)

	return buf.Bytes()
}

// EncodeImage runs the whole image to ESC/POS pipeline.
func EncodeImage(img image.Image, width int) []byte {
	return EncodeRaster(Rasterize(img, width))
}
