package sdr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"rfids/internal/model"
)

var ErrShortCapture = errors.New("capture shorter than fft size")

// floorDB keeps log10 finite for empty bins.
const floorDB = -200.0

// DecodeIQ converts interleaved unsigned 8-bit I/Q pairs to complex samples
// in [-1, 1]. A trailing odd byte is ignored.
func DecodeIQ(raw []byte) []complex128 {
	out := make([]complex128, len(raw)/2)
	for i := range out {
		re := (float64(raw[2*i]) - 127.5) / 127.5
		im := (float64(raw[2*i+1]) - 127.5) / 127.5
		out[i] = complex(re, im)
	}
	return out
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Welch estimates the two-sided power spectral density of iq using Hann
// windowed segments of nperseg samples with 50% overlap and per-segment mean
// removal. Bins are ordered by frequency and expressed in MHz around
// centerHz; power is in dB.
func Welch(iq []complex128, sampleRate, centerHz float64, nperseg int) (model.Spectrum, error) {
	if nperseg <= 0 {
		return model.Spectrum{}, fmt.Errorf("invalid fft size %d", nperseg)
	}
	if sampleRate <= 0 {
		return model.Spectrum{}, fmt.Errorf("invalid sample rate %v", sampleRate)
	}
	if len(iq) < nperseg {
		return model.Spectrum{}, fmt.Errorf("%w: %d < %d", ErrShortCapture, len(iq), nperseg)
	}
	step := nperseg / 2
	if step == 0 {
		step = 1
	}
	window := hann(nperseg)
	var wss float64
	for _, v := range window {
		wss += v * v
	}

	fft := fourier.NewCmplxFFT(nperseg)
	seg := make([]complex128, nperseg)
	coeff := make([]complex128, nperseg)
	acc := make([]float64, nperseg)
	segments := 0
	for start := 0; start+nperseg <= len(iq); start += step {
		var mean complex128
		for _, v := range iq[start : start+nperseg] {
			mean += v
		}
		mean /= complex(float64(nperseg), 0)
		for i := range seg {
			seg[i] = (iq[start+i] - mean) * complex(window[i], 0)
		}
		coeff = fft.Coefficients(coeff, seg)
		for k, c := range coeff {
			acc[k] += real(c)*real(c) + imag(c)*imag(c)
		}
		segments++
	}

	scale := 1 / (sampleRate * wss * float64(segments))
	offset := nperseg / 2
	binHz := sampleRate / float64(nperseg)
	out := model.Spectrum{
		Frequencies: make([]float64, nperseg),
		PSD:         make([]float64, nperseg),
	}
	for i := 0; i < nperseg; i++ {
		k := i - offset
		src := (k + nperseg) % nperseg
		out.Frequencies[i] = (centerHz + float64(k)*binHz) / 1e6
		p := acc[src] * scale
		if p > 0 {
			out.PSD[i] = 10 * math.Log10(p)
		} else {
			out.PSD[i] = floorDB
		}
	}
	return out, nil
}
