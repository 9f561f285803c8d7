package recognition

import (
	"image"

	"golang.org/x/image/draw"
)

// Resize scales img to a size×size RGBA raster.
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies the part of img inside box. Boxes are clipped to the image
// bounds first; ok is false when nothing remains, including for inverted boxes.
func Crop(img image.Image, box image.Rectangle) (crop *image.RGBA, ok bool) {
	box = box.Intersect(img.Bounds())
	if box.Empty() {
		return nil, false
	}

	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), img, box.Min, draw.Src)
	return dst, true
}

// CropAndResize crops img to box and scales the result to size×size.
func CropAndResize(img image.Image, box image.Rectangle, size int) (*image.RGBA, bool) {
	crop, ok := Crop(img, box)
	if !ok {
		return nil, false
	}
	return Resize(crop, size), true
}

// Largest returns the index of the box with the biggest area, or -1.
func Largest(boxes []image.Rectangle) int {
	best, bestArea := -1, -1
	for i, b := range boxes {
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = i, area
		}
	}
	return best
}
