package l4waterfall

import (
	"image"
	"image/png"
	"io"
)

// Image renders the snapshot as a MaxRows-high grayscale image with the
// newest row at the bottom. Rows not yet filled are black.
func (s Snapshot) Image() *image.Gray {
	w := s.Width
	if w == 0 {
		w = 1
	}
	img := image.NewGray(image.Rect(0, 0, w, s.MaxRows))
	top := s.MaxRows - len(s.Rows)
	for i, row := range s.Rows {
		copy(img.Pix[(top+i)*img.Stride:], row)
	}
	return img
}

// EncodePNG writes Image() as PNG.
func (s Snapshot) EncodePNG(w io.Writer) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, s.Image())
}
