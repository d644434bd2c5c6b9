// Package swebench runs the coding agent over the SWE-bench mini subset and
// keeps its predictions resumable: the dictionary, the progress marker and
// the JSON-lines mirror are persisted and uploaded after every instance.
package swebench

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/predstore"
	"github.com/sgl-project/ome-loop/pkg/tarball"
)

// Runner evaluates the model on the benchmark.
type Runner struct {
	logger logging.Interface
	config Config
}

func NewRunner(config *Config) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("swebench config invalid: %w", err)
	}
	return &Runner{logger: config.AnotherLogger, config: *config}, nil
}

func (r *Runner) agentConfigPath() string {
	p := r.config.Run.SWE.Agent.ConfigFile
	if filepath.IsAbs(p) {
		return p
	}
	return r.config.Run.Path(p)
}

// restore downloads whichever resume artifacts are missing locally.
// Failures leave the artifact absent.
func (r *Runner) restore(ctx context.Context, repoID string, store *predstore.Store) {
	for _, local := range store.Artifacts() {
		if exists, _ := afero.Exists(r.config.Fs, local); exists {
			continue
		}
		if r.config.Syncer.MaybeDownloadFile(ctx, repoID, filepath.Base(local), hub.RepoTypeDataset, local) {
			r.logger.WithField("file", filepath.Base(local)).Info("Restored from the Hub")
		}
	}
}

// Start runs every instance not yet in the predictions dictionary, then
// uploads traces.tgz.
func (r *Runner) Start(ctx context.Context) error {
	rc := r.config.Run

	dataset, err := ResolveDataset(rc.SWE.DatasetRepo)
	if err != nil {
		return err
	}
	repoID, err := rc.Repo(constants.RepoKeySWEBenchDataset)
	if err != nil {
		return err
	}
	if len(rc.SWE.Agent.Command) == 0 {
		return errors.New("swe.agent.command is not configured")
	}

	out := rc.SWEDir()
	if err := r.config.Fs.MkdirAll(out, 0o755); err != nil {
		return err
	}
	if err := r.config.Syncer.EnsureRepo(ctx, repoID, hub.RepoTypeDataset); err != nil {
		return err
	}

	store := predstore.NewStore(r.config.Fs, out, r.logger)
	r.restore(ctx, repoID, store)

	preds, err := store.LoadPredictions()
	if err != nil {
		return err
	}
	if _, err := store.ReconcileMirror(preds); err != nil {
		return err
	}

	settings, err := LoadAgentSettings(r.config.Fs, r.agentConfigPath())
	if err != nil {
		return err
	}

	source := datasetSource{
		client:  r.config.Client,
		fs:      r.config.Fs,
		baseURL: rc.SWE.DatasetsBaseURL,
		file:    rc.SWE.DatasetFile,
	}
	instances, err := source.load(ctx, dataset, rc.SWE.Split)
	if err != nil {
		return err
	}
	r.logger.WithField("dataset", dataset).
		WithField("split", rc.SWE.Split).
		WithField("instances", len(instances)).
		WithField("done", preds.Len()).
		WithField("out", out).
		Info("Starting benchmark run")

	for idx, inst := range instances {
		if preds.Has(inst.InstanceID) {
			r.config.Metrics.RecordInstance(true)
			continue
		}
		r.logger.WithField("instance_id", inst.InstanceID).
			Infof("(%d/%d) running agent", idx+1, len(instances))

		status, patch, err := r.episode(ctx, inst, settings)
		if err != nil {
			return err
		}
		if err := store.Record(preds, inst.InstanceID, predstore.Prediction{
			ModelNameOrPath: settings.ModelName(),
			InstanceID:      inst.InstanceID,
			ModelPatch:      patch,
		}, status); err != nil {
			return err
		}
		r.config.Metrics.RecordInstance(false)

		for _, artifact := range store.Artifacts() {
			if err := r.config.Syncer.UploadPath(ctx, repoID, artifact, hub.RepoTypeDataset); err != nil {
				return err
			}
		}
	}

	return r.uploadTraces(ctx, repoID, out)
}

func (r *Runner) uploadTraces(ctx context.Context, repoID, out string) error {
	archive := filepath.Join(out, constants.TracesArchiveName)
	n, err := tarball.TarGz(
		[]tarball.Source{{Path: out, Arcname: constants.TracesArchiveRoot}},
		archive,
		tarball.Options{IncludeDirs: true})
	if err != nil {
		return errors.Wrap(err, "archiving traces")
	}
	r.logger.WithField("archive", archive).WithField("files", n).Info("Traces archived")
	return r.config.Syncer.UploadPath(ctx, repoID, archive, hub.RepoTypeDataset)
}
