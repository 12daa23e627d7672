package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"gonum.org/v1/gonum/floats"

	"rfids/internal/model"
)

const (
	dpi       float64 = 72
	titleSize float64 = 16
	labelSize float64 = 11
	width             = 1200
	height            = 800
	marginL           = 70
	marginR           = 20
	marginT           = 40
	gap               = 50
	timeLayout        = "20060102_150405"
)

// Renderer writes PNG artifacts for alerts into a directory.
type Renderer struct {
	dir string
	mu  sync.Mutex
	ctx *freetype.Context
}

func New(dir string) (*Renderer, error) {
	parsed, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}
	c := freetype.NewContext()
	c.SetDPI(dpi)
	c.SetFont(parsed)
	c.SetHinting(font.HintingFull)
	c.SetSrc(image.White)
	return &Renderer{dir: dir, ctx: c}, nil
}

func AnomalyFilename(centerMHz float64, ts time.Time) string {
	return fmt.Sprintf("anomaly_%gMHz_%s.png", centerMHz, ts.Format(timeLayout))
}

func ProximityFilename(class model.DeviceClass, ts time.Time) string {
	return fmt.Sprintf("proximity_%s_%s.png", class, ts.Format(timeLayout))
}

// Anomaly draws baseline against current power with anomalies marked, and
// below it the difference with the ±threshold band.
func (r *Renderer) Anomaly(centerMHz float64, b *model.Baseline, s model.Spectrum, anomalies []model.Anomaly, thresholdDB float64, ts time.Time) (string, error) {
	if b == nil || len(b.Mean) != len(s.PSD) {
		return "", fmt.Errorf("cannot plot misaligned spectrum")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, img.Bounds(), colBackground)

	plotH := (height - marginT - 2*gap) / 2
	top := image.Rect(marginL, marginT, width-marginR, marginT+plotH)
	bottom := image.Rect(marginL, top.Max.Y+gap, width-marginR, top.Max.Y+gap+plotH)

	freqs := s.Frequencies
	if len(freqs) != len(s.PSD) {
		freqs = b.Frequencies
	}
	diff := make([]float64, len(s.PSD))
	floats.SubTo(diff, s.PSD, b.Mean)

	pt := newPanel(top, freqs, b.Mean, s.PSD)
	pt.frame(img)
	pt.polyline(img, freqs, b.Mean, colBaseline)
	pt.polyline(img, freqs, s.PSD, colCurrent)
	for _, a := range anomalies {
		pt.marker(img, a.Frequency, a.CurrentPower, colAlert, 3)
	}

	pb := newPanel(bottom, freqs, diff)
	pb.include(thresholdDB)
	pb.include(-thresholdDB)
	pb.frame(img)
	pb.hline(img, 0, colGrid, false)
	pb.hline(img, thresholdDB, colAlert, true)
	pb.hline(img, -thresholdDB, colAlert, true)
	pb.polyline(img, freqs, diff, colDiff)
	for _, a := range anomalies {
		pb.marker(img, a.Frequency, a.Difference, colAlert, 3)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.begin(img)
	r.text(fmt.Sprintf("RF spectrum at %s: %d anomalies", formatMHz(centerMHz), len(anomalies)), marginL, 26, titleSize)
	r.legend(img, top, []legendItem{{"baseline", colBaseline}, {"current", colCurrent}, {"anomaly", colAlert}})
	r.legend(img, bottom, []legendItem{{"difference", colDiff}, {fmt.Sprintf("±%.1f dB threshold", thresholdDB), colAlert}})
	r.axes(pt, "dB")
	r.axes(pb, "dB")
	return r.write(AnomalyFilename(centerMHz, ts), img)
}

// Proximity draws the captured spectrum with the reference level and the
// strongest bin highlighted.
func (r *Renderer) Proximity(s model.Spectrum, breach *model.Breach, ts time.Time) (string, error) {
	if breach == nil || len(s.PSD) == 0 {
		return "", fmt.Errorf("nothing to plot")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, img.Bounds(), colBackground)

	area := image.Rect(marginL, marginT+gap, width-marginR, height-gap)
	p := newPanel(area, s.Frequencies, s.PSD)
	p.include(breach.ReferencePower)
	p.frame(img)
	p.hline(img, breach.ReferencePower, colReference, true)
	p.polyline(img, s.Frequencies, s.PSD, colAlert)
	peak := floats.MaxIdx(s.PSD)
	p.marker(img, s.Frequencies[peak], s.PSD[peak], colCurrent, 6)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.begin(img)
	r.text(fmt.Sprintf("PROXIMITY ALERT: %s within %.0f feet", breach.DeviceClass.Label(), breach.DistanceFeet), marginL, 26, titleSize)
	r.text(fmt.Sprintf("peak %.2f dB at %s, reference %.2f dB, +%.1f%%",
		breach.ObservedPower, formatMHz(s.Frequencies[peak]), breach.ReferencePower, breach.SignalIncreasePct), marginL, 56, labelSize)
	r.legend(img, area, []legendItem{{"current", colAlert}, {"reference", colReference}, {"peak", colCurrent}})
	r.axes(p, "dB")
	return r.write(ProximityFilename(breach.DeviceClass, ts), img)
}

type legendItem struct {
	label string
	col   color.Color
}

func (r *Renderer) begin(img *image.RGBA) {
	r.ctx.SetClip(img.Bounds())
	r.ctx.SetDst(img)
}

func (r *Renderer) text(s string, x, y int, size float64) {
	r.ctx.SetFontSize(size)
	_, _ = r.ctx.DrawString(s, freetype.Pt(x, y))
}

func (r *Renderer) legend(img *image.RGBA, area image.Rectangle, items []legendItem) {
	x := area.Max.X - 170
	y := area.Min.Y + 16
	for _, it := range items {
		fill(img, image.Rect(x, y-8, x+14, y), it.col)
		r.text(it.label, x+20, y, labelSize)
		y += 16
	}
}

func (r *Renderer) axes(p panel, unit string) {
	for i := 0; i <= 4; i++ {
		x := p.xmin + (p.xmax-p.xmin)*float64(i)/4
		r.text(formatMHz(x), p.px(x)-30, p.rect.Max.Y+16, labelSize)
		y := p.ymin + (p.ymax-p.ymin)*float64(i)/4
		r.text(fmt.Sprintf("%.0f %s", y, unit), 4, p.py(y)+4, labelSize)
	}
}

func (r *Renderer) write(name string, img image.Image) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}
	return path, f.Close()
}

func formatMHz(mhz float64) string {
	v, suffix := humanize.ComputeSI(mhz * 1e6)
	return fmt.Sprintf("%0.2f %sHz", v, suffix)
}
