package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	colBackground = color.RGBA{0x10, 0x12, 0x18, 0xff}
	colGrid       = color.RGBA{0x38, 0x3c, 0x48, 0xff}
	colBaseline   = color.RGBA{0x3d, 0xa5, 0xf4, 0xff}
	colCurrent    = color.RGBA{0xff, 0x9f, 0x1c, 0xff}
	colAlert      = color.RGBA{0xef, 0x23, 0x3c, 0xff}
	colDiff       = color.RGBA{0x8a, 0xc9, 0x26, 0xff}
	colReference  = color.RGBA{0xff, 0xd1, 0x66, 0xff}
)

// panel maps data coordinates into a pixel rectangle.
type panel struct {
	rect       image.Rectangle
	xmin, xmax float64
	ymin, ymax float64
}

func newPanel(rect image.Rectangle, xs []float64, ys ...[]float64) panel {
	p := panel{rect: rect, xmin: math.Inf(1), xmax: math.Inf(-1), ymin: math.Inf(1), ymax: math.Inf(-1)}
	for _, x := range xs {
		p.xmin = math.Min(p.xmin, x)
		p.xmax = math.Max(p.xmax, x)
	}
	for _, series := range ys {
		for _, y := range series {
			if math.IsInf(y, 0) || math.IsNaN(y) {
				continue
			}
			p.ymin = math.Min(p.ymin, y)
			p.ymax = math.Max(p.ymax, y)
		}
	}
	if math.IsInf(p.xmin, 0) {
		p.xmin, p.xmax = 0, 1
	} else if p.xmax == p.xmin {
		p.xmin, p.xmax = p.xmin-1, p.xmax+1
	}
	if math.IsInf(p.ymin, 0) || p.ymax == p.ymin {
		mid := p.ymin
		if math.IsInf(mid, 0) {
			mid = 0
		}
		p.ymin, p.ymax = mid-1, mid+1
	}
	pad := (p.ymax - p.ymin) * 0.08
	p.ymin -= pad
	p.ymax += pad
	return p
}

func (p *panel) include(y float64) {
	if y < p.ymin {
		p.ymin = y - (p.ymax-p.ymin)*0.05
	}
	if y > p.ymax {
		p.ymax = y + (p.ymax-p.ymin)*0.05
	}
}

func (p panel) px(x float64) int {
	return p.rect.Min.X + int(math.Round((x-p.xmin)/(p.xmax-p.xmin)*float64(p.rect.Dx()-1)))
}

func (p panel) py(y float64) int {
	return p.rect.Max.Y - 1 - int(math.Round((y-p.ymin)/(p.ymax-p.ymin)*float64(p.rect.Dy()-1)))
}

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func (p panel) frame(img *image.RGBA) {
	r := p.rect
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, colGrid)
		img.Set(x, r.Max.Y-1, colGrid)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, colGrid)
		img.Set(r.Max.X-1, y, colGrid)
	}
}

func line(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (p panel) polyline(img *image.RGBA, xs, ys []float64, c color.Color) {
	n := min(len(xs), len(ys))
	for i := 1; i < n; i++ {
		line(img, p.px(xs[i-1]), p.py(ys[i-1]), p.px(xs[i]), p.py(ys[i]), c)
	}
}

func (p panel) hline(img *image.RGBA, y float64, c color.Color, dashed bool) {
	py := p.py(y)
	if py < p.rect.Min.Y || py >= p.rect.Max.Y {
		return
	}
	for x := p.rect.Min.X; x < p.rect.Max.X; x++ {
		if dashed && (x/6)%2 == 1 {
			continue
		}
		img.Set(x, py, c)
	}
}

func (p panel) marker(img *image.RGBA, x, y float64, c color.Color, size int) {
	cx, cy := p.px(x), p.py(y)
	fill(img, image.Rect(cx-size, cy-size, cx+size+1, cy+size+1).Intersect(p.rect), c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
