package origin

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Renderer 把源图缩放到 MaxSize×MaxSize 以内（保持比例、不放大）并编码为 JPEG。
type Renderer struct {
	MaxSize int
	Quality int
}

// Render 解码 data 并输出缩略图字节。
func (r Renderer) Render(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), r.MaxSize)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	// JPEG 没有透明通道，先铺白底再叠加。
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin 计算等比缩放后的尺寸，任一边不超过 limit，且不会放大原图。
func fitWithin(width, height, limit int) (int, int) {
	if width <= 0 || height <= 0 {
		return 1, 1
	}
	if limit <= 0 || (width <= limit && height <= limit) {
		return width, height
	}
	if width >= height {
		scaled := int(math.Round(float64(height) * float64(limit) / float64(width)))
		return limit, max(scaled, 1)
	}
	scaled := int(math.Round(float64(width) * float64(limit) / float64(height)))
	return max(scaled, 1), limit
}
