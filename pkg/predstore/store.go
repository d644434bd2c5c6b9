package predstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/sets"

	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

// Progress is the marker overwritten after every instance.
type Progress struct {
	LastIID string `json:"last_iid"`
	Status  string `json:"status"`
}

// Store owns the three resume artifacts of one output directory.
type Store struct {
	fs     afero.Fs
	dir    string
	logger logging.Interface

	mirrorIDs sets.Set[string]
}

// NewStore returns a Store rooted at dir.
func NewStore(fs afero.Fs, dir string, logger logging.Interface) *Store {
	return &Store{fs: fs, dir: dir, logger: logger, mirrorIDs: sets.New[string]()}
}

func (s *Store) Dir() string             { return s.dir }
func (s *Store) PredictionsPath() string { return filepath.Join(s.dir, constants.PredictionsFileName) }
func (s *Store) ProgressPath() string    { return filepath.Join(s.dir, constants.ProgressFileName) }
func (s *Store) MirrorPath() string      { return filepath.Join(s.dir, constants.MirrorFileName) }

// Artifacts lists the three files in upload order.
func (s *Store) Artifacts() []string {
	return []string{s.PredictionsPath(), s.ProgressPath(), s.MirrorPath()}
}

// LoadPredictionsFile reads a predictions dictionary; a missing file is an
// empty dictionary.
func LoadPredictionsFile(fs afero.Fs, path string) (*Predictions, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return NewPredictions(), nil
	}
	if err != nil {
		return nil, err
	}

	preds := NewPredictions()
	if len(data) == 0 {
		return preds, nil
	}
	if err := preds.UnmarshalJSON(data); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return preds, nil
}

// WritePredictionsFile atomically overwrites path with preds.
func WritePredictionsFile(fs afero.Fs, path string, preds *Predictions, logger logging.Interface) error {
	data, err := marshalIndent(preds)
	if err != nil {
		return err
	}
	return aferoutil.AtomicWriteFile(fs, path, data, 0o644, logger)
}

// WriteMirrorFile atomically rewrites the mirror at path from preds.
func WriteMirrorFile(fs afero.Fs, path string, preds *Predictions, logger logging.Interface) error {
	data, err := EncodeMirror(preds)
	if err != nil {
		return err
	}
	return aferoutil.AtomicWriteFile(fs, path, data, 0o644, logger)
}

// LoadPredictions reads preds.json.
func (s *Store) LoadPredictions() (*Predictions, error) {
	return LoadPredictionsFile(s.fs, s.PredictionsPath())
}

// SavePredictions overwrites preds.json.
func (s *Store) SavePredictions(preds *Predictions) error {
	return WritePredictionsFile(s.fs, s.PredictionsPath(), preds, s.logger)
}

// SaveProgress overwrites progress.json.
func (s *Store) SaveProgress(p Progress) error {
	data, err := marshalIndent(p)
	if err != nil {
		return err
	}
	return aferoutil.AtomicWriteFile(s.fs, s.ProgressPath(), data, 0o644, s.logger)
}

// LoadProgress reads progress.json; ok is false when it does not exist.
func (s *Store) LoadProgress() (p Progress, ok bool, err error) {
	data, err := afero.ReadFile(s.fs, s.ProgressPath())
	if os.IsNotExist(err) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, false, errors.Wrapf(err, "parsing %s", s.ProgressPath())
	}
	return p, true, nil
}

// RebuildMirror rewrites all-preds.jsonl from preds.
func (s *Store) RebuildMirror(preds *Predictions) error {
	if err := WriteMirrorFile(s.fs, s.MirrorPath(), preds, s.logger); err != nil {
		return errors.Wrap(err, "rebuilding mirror")
	}
	s.mirrorIDs = sets.New(preds.IDs()...)
	return nil
}

// ReconcileMirror restores ids(mirror) ⊇ ids(preds): an absent mirror is
// written from preds and a mirror missing any key is rebuilt. It reports
// whether the file was (re)written.
func (s *Store) ReconcileMirror(preds *Predictions) (bool, error) {
	ids, exists, err := ReadMirrorIDs(s.fs, s.MirrorPath())
	if err != nil {
		return false, errors.Wrap(err, "reading mirror")
	}
	if exists && ids.IsSuperset(sets.New(preds.IDs()...)) {
		s.mirrorIDs = ids
		return false, nil
	}

	s.logger.WithField("exists", exists).
		WithField("mirror_ids", ids.Len()).
		WithField("preds", preds.Len()).
		Info("Rebuilding predictions mirror")
	return true, s.RebuildMirror(preds)
}

// AppendMirror appends rec unless its id is already mirrored.
func (s *Store) AppendMirror(rec MirrorRecord) error {
	if s.mirrorIDs.Has(rec.InstanceID) {
		return nil
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	f, err := s.fs.OpenFile(s.MirrorPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening mirror")
	}
	if err := writeMirrorLine(f, rec); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "appending to mirror")
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.mirrorIDs.Insert(rec.InstanceID)
	return nil
}

// Record persists the outcome of one instance: the dictionary and the
// progress marker are overwritten, and the mirror is appended to, or
// rebuilt if it somehow fell behind.
func (s *Store) Record(preds *Predictions, iid string, pred Prediction, status string) error {
	preds.Set(iid, pred)
	if err := s.SavePredictions(preds); err != nil {
		return errors.Wrap(err, "saving predictions")
	}
	if err := s.SaveProgress(Progress{LastIID: iid, Status: status}); err != nil {
		return errors.Wrap(err, "saving progress")
	}

	if err := s.AppendMirror(MirrorRecord{
		InstanceID:      iid,
		ModelNameOrPath: pred.ModelNameOrPath,
		ModelPatch:      pred.ModelPatch,
	}); err != nil {
		return err
	}
	if !s.mirrorIDs.IsSuperset(sets.New(preds.IDs()...)) {
		return s.RebuildMirror(preds)
	}
	return nil
}
