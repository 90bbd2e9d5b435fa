package renderer

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/chewxy/math32"
)

const invGamma = 1.0 / 2.2

// Map linear RGBA float texels to 8-bit sRGB using simple Reinhard
// tonemapping. src must hold w*h 16 byte texels.
func TonemapSimpleReinhard(dst *image.RGBA, src []byte, exposure float32) {
	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			texel := src[(y*w+x)*16:]
			out := row[x*4:]
			for c := 0; c < 3; c++ {
				v := math.Float32frombits(binary.LittleEndian.Uint32(texel[c*4:])) * exposure
				v = v / (1 + v)
				out[c] = uint8(math32.Min(math32.Pow(math32.Max(v, 0), invGamma)*255+0.5, 255))
			}
			out[3] = 255
		}
	}
}
