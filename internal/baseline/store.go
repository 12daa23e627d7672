package baseline

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"rfids/internal/model"
)

const (
	FileName      = "baseline.gob"
	recordVersion = 1
)

type record struct {
	Version   int
	CreatedAt time.Time
	Entries   []entry
}

type entry struct {
	CenterFreq  float64
	Frequencies []float64
	Mean        []float64
	Std         []float64
	CreatedAt   time.Time
}

func Encode(w io.Writer, set *model.BaselineSet) error {
	if set == nil {
		return errors.New("nil baseline set")
	}
	rec := record{Version: recordVersion, CreatedAt: set.CreatedAt}
	keys := make([]float64, 0, len(set.Entries))
	for k := range set.Entries {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	for _, k := range keys {
		b := set.Entries[k]
		if err := Validate(b); err != nil {
			return fmt.Errorf("baseline %v MHz: %w", k, err)
		}
		rec.Entries = append(rec.Entries, entry{
			CenterFreq:  k,
			Frequencies: b.Frequencies,
			Mean:        b.Mean,
			Std:         b.Std,
			CreatedAt:   b.CreatedAt,
		})
	}
	return gob.NewEncoder(w).Encode(rec)
}

// Decode reads a baseline record. Any decoding or invariant failure is
// reported as ErrCorruptBaseline.
func Decode(r io.Reader) (*model.BaselineSet, error) {
	var rec record
	if err := gob.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBaseline, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptBaseline, rec.Version)
	}
	set := &model.BaselineSet{CreatedAt: rec.CreatedAt, Entries: make(map[float64]*model.Baseline, len(rec.Entries))}
	for _, e := range rec.Entries {
		b := &model.Baseline{
			Frequencies: e.Frequencies,
			Mean:        e.Mean,
			Std:         e.Std,
			CreatedAt:   e.CreatedAt,
		}
		if err := Validate(b); err != nil {
			return nil, fmt.Errorf("baseline %v MHz: %w", e.CenterFreq, err)
		}
		set.Entries[e.CenterFreq] = b
	}
	return set, nil
}

type FileStore struct {
	path string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, FileName)}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (*model.BaselineSet, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoBaseline
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func (s *FileStore) Save(set *model.BaselineSet) (err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".baseline-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = Encode(tmp, set); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Remove() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
