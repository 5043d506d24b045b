package gocdp

import (
	"image"
	"image/color"
	"testing"

	"github.com/orisano/pixelmatch"
)

// solidImage builds an in-memory RGBA image filled with c, standing in for
// a captured screenshot so the diffing logic can be exercised without a
// live browser, the same comparison the original client library's
// screenshot tests run against golden PNGs on disk.
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPixelmatchIdenticalImages(t *testing.T) {
	a := solidImage(32, 32, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	b := solidImage(32, 32, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	diff, err := pixelmatch.MatchPixel(a, b, pixelmatch.Threshold(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff != 0 {
		t.Fatalf("expected 0 differing pixels between identical images, got %d", diff)
	}
}

func TestPixelmatchDetectsDifference(t *testing.T) {
	a := solidImage(32, 32, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	b := solidImage(32, 32, color.RGBA{R: 0, G: 0, B: 0, A: 255})

	diff, err := pixelmatch.MatchPixel(a, b, pixelmatch.Threshold(0.1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff == 0 {
		t.Fatal("expected a nonzero pixel diff between a white and a black image")
	}
}
