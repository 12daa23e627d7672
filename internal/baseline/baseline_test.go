package baseline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfids/internal/model"
)

func spectrum(psd ...float64) model.Spectrum {
	freqs := make([]float64, len(psd))
	for i := range freqs {
		freqs[i] = 433 + float64(i)*0.1
	}
	return model.Spectrum{Frequencies: freqs, PSD: psd}
}

func TestBuildMeanAndPopulationStd(t *testing.T) {
	b, err := Build([]model.Spectrum{
		spectrum(-50, -60, -70),
		spectrum(-40, -60, -80),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{-45, -60, -75}, b.Mean)
	assert.InDeltaSlice(t, []float64{5, 0, 5}, b.Std, 1e-9)
	assert.Equal(t, []float64{433, 433.1, 433.2}, b.Frequencies)
	assert.Equal(t, 3, b.Len())
}

func TestBuildSingleSample(t *testing.T) {
	b, err := Build([]model.Spectrum{spectrum(-42, -43)})
	require.NoError(t, err)
	assert.Equal(t, []float64{-42, -43}, b.Mean)
	assert.Equal(t, []float64{0, 0}, b.Std)
}

func TestBuildInsufficientData(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Build([]model.Spectrum{spectrum(-1, -2), spectrum(-1)})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewModel(nil)
	b, err := Build([]model.Spectrum{spectrum(-50, -51)})
	require.NoError(t, err)
	set := m.Put(433, b)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, set))
	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Contains(t, got.Entries, 433.0)
	assert.Equal(t, b.Mean, got.Entries[433].Mean)
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not a baseline")))
	assert.ErrorIs(t, err, ErrCorruptBaseline)
}

func TestValidateRejectsMismatch(t *testing.T) {
	err := Validate(&model.Baseline{Frequencies: []float64{1, 2}, Mean: []float64{1}, Std: []float64{0}})
	assert.ErrorIs(t, err, ErrCorruptBaseline)
	err = Validate(&model.Baseline{Frequencies: []float64{1}, Mean: []float64{math.NaN()}, Std: []float64{0}})
	assert.ErrorIs(t, err, ErrCorruptBaseline)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoBaseline)

	b, err := Build([]model.Spectrum{spectrum(-30, -31, -32)})
	require.NoError(t, err)
	set := model.NewBaselineSet()
	set.Entries[915] = b
	require.NoError(t, store.Save(set))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, b.Std, loaded.Entries[915].Std)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte{0x01, 0x02}, 0o644))
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrCorruptBaseline)

	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoBaseline)
}

func TestModelReplaceKeepsOldView(t *testing.T) {
	b1, _ := Build([]model.Spectrum{spectrum(-10)})
	b2, _ := Build([]model.Spectrum{spectrum(-20)})
	m := NewModel(nil)
	m.Put(100, b1)
	held, ok := m.For(100)
	require.True(t, ok)

	next := model.NewBaselineSet()
	next.Entries[100] = b2
	m.Replace(next)

	assert.Equal(t, -10.0, held.Mean[0])
	cur, _ := m.For(100)
	assert.Equal(t, -20.0, cur.Mean[0])
	assert.Equal(t, []float64{200}, m.Missing([]float64{100, 200}))
	assert.Equal(t, []float64{100}, m.Frequencies())
}

type flakySampler struct {
	calls int
	fail  map[int]bool
}

func (f *flakySampler) Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error) {
	f.calls++
	if f.fail[f.calls] {
		return model.Spectrum{}, errors.New("usb timeout")
	}
	return spectrum(-60+float64(f.calls), -70), nil
}

func TestCollectSkipsFailedCaptures(t *testing.T) {
	s := &flakySampler{fail: map[int]bool{2: true}}
	b, err := Collect(context.Background(), s, 433, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, s.calls)
	assert.InDelta(t, -58, b.Mean[0], 1e-9)
}

func TestCollectAllFailed(t *testing.T) {
	s := &flakySampler{fail: map[int]bool{1: true, 2: true}}
	_, err := Collect(context.Background(), s, 433, 2, 0)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, &flakySampler{}, 433, 2, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
