package chibi

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
)

// colorDistanceLimit is the squared RGB distance under which a pixel counts as
// background relative to the border average.
const colorDistanceLimit = 96 * 96

// cutOut turns a rendered sticker into a transparent-background PNG: the image
// is downscaled to fit maxDimension, then every pixel connected to the border
// and close to the border's average color is cleared.
func cutOut(imageBytes []byte, maxDimension int) ([]byte, error) {
	decoded, _, decodeErr := image.Decode(bytes.NewReader(imageBytes))
	if decodeErr != nil {
		return nil, fmt.Errorf("decode rendered image: %w", decodeErr)
	}

	if maxDimension > 0 {
		bounds := decoded.Bounds()
		if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
			decoded = imaging.Fit(decoded, maxDimension, maxDimension, imaging.Lanczos)
		}
	}

	canvas := imaging.Clone(decoded)
	keyBackground(canvas)

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, canvas); err != nil {
		return nil, fmt.Errorf("encode sticker: %w", err)
	}
	return buffer.Bytes(), nil
}

// keyBackground clears the background in place. Flood filling from the border
// keeps interior regions opaque even when they match the background color.
func keyBackground(canvas *image.NRGBA) {
	width := canvas.Rect.Dx()
	height := canvas.Rect.Dy()
	if width == 0 || height == 0 {
		return
	}

	reference := borderAverage(canvas)
	visited := make([]bool, width*height)
	queue := make([]image.Point, 0, 2*(width+height))

	enqueue := func(x, y int) {
		index := y*width + x
		if visited[index] {
			return
		}
		visited[index] = true
		if nearColor(canvas.NRGBAAt(x, y), reference) {
			queue = append(queue, image.Point{X: x, Y: y})
		}
	}

	for x := 0; x < width; x++ {
		enqueue(x, 0)
		enqueue(x, height-1)
	}
	for y := 0; y < height; y++ {
		enqueue(0, y)
		enqueue(width-1, y)
	}

	for len(queue) > 0 {
		point := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		pixel := canvas.NRGBAAt(point.X, point.Y)
		pixel.A = 0
		canvas.SetNRGBA(point.X, point.Y, pixel)

		if point.X > 0 {
			enqueue(point.X-1, point.Y)
		}
		if point.X < width-1 {
			enqueue(point.X+1, point.Y)
		}
		if point.Y > 0 {
			enqueue(point.X, point.Y-1)
		}
		if point.Y < height-1 {
			enqueue(point.X, point.Y+1)
		}
	}
}

func borderAverage(canvas *image.NRGBA) color.NRGBA {
	width := canvas.Rect.Dx()
	height := canvas.Rect.Dy()

	var sumRed, sumGreen, sumBlue, count uint64
	accumulate := func(x, y int) {
		pixel := canvas.NRGBAAt(x, y)
		sumRed += uint64(pixel.R)
		sumGreen += uint64(pixel.G)
		sumBlue += uint64(pixel.B)
		count++
	}

	for x := 0; x < width; x++ {
		accumulate(x, 0)
		accumulate(x, height-1)
	}
	for y := 1; y < height-1; y++ {
		accumulate(0, y)
		accumulate(width-1, y)
	}
	if count == 0 {
		return color.NRGBA{}
	}

	return color.NRGBA{
		R: uint8(sumRed / count),
		G: uint8(sumGreen / count),
		B: uint8(sumBlue / count),
		A: 255,
	}
}

func nearColor(pixel color.NRGBA, reference color.NRGBA) bool {
	deltaRed := int(pixel.R) - int(reference.R)
	deltaGreen := int(pixel.G) - int(reference.G)
	deltaBlue := int(pixel.B) - int(reference.B)
	return deltaRed*deltaRed+deltaGreen*deltaGreen+deltaBlue*deltaBlue <= colorDistanceLimit
}
