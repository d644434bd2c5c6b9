// Package training drives the LoRA trainer for model A, resumes from the
// newest checkpoint on the Hub, pushes every saved checkpoint as it lands
// and publishes the final merged model.
package training

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

// Fixed trainer settings.
const (
	warmupRatio       = "0.03"
	lrSchedulerType   = "cosine"
	loraRank          = "1"
	loraAlpha         = "8"
	loraDropout       = "0"
	loraTargetModules = "all-linear"
)

// Trainer runs the training stage.
type Trainer struct {
	logger logging.Interface
	config Config
}

func NewTrainer(config *Config) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("training config invalid: %w", err)
	}
	return &Trainer{logger: config.AnotherLogger, config: *config}, nil
}

// CheckGPU fails unless `nvidia-smi -L` lists at least one GPU.
func CheckGPU(ctx context.Context, runner *common.Runner) error {
	out, err := runner.Output(ctx, common.Command{Argv: []string{"nvidia-smi", "-L"}})
	if err != nil {
		return errors.Wrap(err, "no GPU available")
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.HasPrefix(strings.TrimSpace(sc.Text()), "GPU ") {
			return nil
		}
	}
	return errors.New("no GPU available: nvidia-smi lists no devices")
}

// CheckpointStep parses the step out of a checkpoint-<step> name.
func CheckpointStep(name string) (int, bool) {
	if !strings.HasPrefix(name, constants.CheckpointPrefix) {
		return 0, false
	}
	step, err := strconv.Atoi(strings.TrimPrefix(name, constants.CheckpointPrefix))
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}

// LocalCheckpoints lists the checkpoint-<step> directories of dir by step.
func LocalCheckpoints(fs aferoutil.Fs, dir string) ([]string, error) {
	infos, err := aferoutil.ReadDir(fs, dir)
	if err != nil {
		if exists, _ := aferoutil.Exists(fs, dir); !exists {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if _, ok := CheckpointStep(info.Name()); ok && info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		si, _ := CheckpointStep(names[i])
		sj, _ := CheckpointStep(names[j])
		return si < sj
	})
	return names, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// TrainerArgs appends the hyperparameter flags to the configured trainer
// command. resumeFrom may be empty.
func TrainerArgs(rc *runconfig.Config, data, out, resumeFrom string) []string {
	t := rc.Train
	argv := append([]string{}, t.Command...)
	argv = append(argv,
		"--model_name_or_path", rc.ModelABase,
		"--train_file", data,
		"--output_dir", out,
		"--max_seq_length", strconv.Itoa(t.MaxLen),
		"--per_device_train_batch_size", strconv.Itoa(t.BatchSize),
		"--gradient_accumulation_steps", strconv.Itoa(t.GradAcc),
		"--learning_rate", formatFloat(t.LearningRate),
		"--num_train_epochs", formatFloat(t.Epochs),
		"--save_strategy", "steps",
		"--save_steps", strconv.Itoa(t.SaveSteps),
		"--warmup_ratio", warmupRatio,
		"--lr_scheduler_type", lrSchedulerType,
		"--lora_r", loraRank,
		"--lora_alpha", loraAlpha,
		"--lora_dropout", loraDropout,
		"--lora_target_modules", loraTargetModules,
		"--logging_dir", filepath.Join(out, constants.LogsDirectoryName),
	)
	if resumeFrom != "" {
		argv = append(argv, "--resume_from_checkpoint", resumeFrom)
	}
	return argv
}

// ExportArgs appends base, adapter and output flags to the export command.
func ExportArgs(rc *runconfig.Config, adapter, out string) []string {
	argv := append([]string{}, rc.Train.ExportCommand...)
	return append(argv, "--base", rc.ModelABase, "--adapter", adapter, "--out", out)
}

type repos struct {
	checkpoints string
	merged      string
}

// Start trains model A and publishes runs/A_final.
func (t *Trainer) Start(ctx context.Context) error {
	rc := t.config.Run
	fs := t.config.Fs

	if rc.Train.RequireGPU {
		if err := CheckGPU(ctx, t.config.Runner); err != nil {
			return err
		}
	}
	if err := t.config.Syncer.RequireToken(); err != nil {
		return err
	}
	if len(rc.Train.Command) == 0 {
		return errors.New("train.command is not configured")
	}

	var r repos
	var err error
	if r.checkpoints, err = rc.Repo(constants.RepoKeyACheckpoint); err != nil {
		return err
	}
	if r.merged, err = rc.Repo(constants.RepoKeyAMerged); err != nil {
		return err
	}

	data := rc.SFTDataFile()
	if exists, _ := aferoutil.Exists(fs, data); !exists {
		return fmt.Errorf("training data not found: %s", data)
	}
	out, err := filepath.Abs(rc.TrainADir())
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(out, 0o755); err != nil {
		return err
	}

	resumeFrom, err := t.resume(ctx, r.checkpoints, out)
	if err != nil {
		return err
	}
	existing, err := LocalCheckpoints(fs, out)
	if err != nil {
		return err
	}

	argv := TrainerArgs(rc, data, out, resumeFrom)
	if err := t.runAndPush(ctx, argv, out, r, existing); err != nil {
		return err
	}
	return t.finish(ctx, out, r)
}

// resume returns the newest local checkpoint, downloading the newest remote
// one first when the output directory has none.
func (t *Trainer) resume(ctx context.Context, repoID, out string) (string, error) {
	local, err := LocalCheckpoints(t.config.Fs, out)
	if err != nil {
		return "", err
	}
	if len(local) == 0 {
		name, ok := t.config.Syncer.LatestCheckpoint(ctx, repoID)
		if !ok {
			t.logger.Info("No checkpoint to resume from, starting fresh")
			return "", nil
		}
		t.logger.WithField("checkpoint", name).Info("Resuming from remote checkpoint")
		if err := t.config.Syncer.DownloadFolderPrefix(ctx, repoID, name, out); err != nil {
			return "", err
		}
		if local, err = LocalCheckpoints(t.config.Fs, out); err != nil {
			return "", err
		}
		if len(local) == 0 {
			return "", nil
		}
	}
	return filepath.Join(out, local[len(local)-1]), nil
}

// finish exports the final merged model, pushes it and swaps runs/A_final.
func (t *Trainer) finish(ctx context.Context, out string, r repos) error {
	rc := t.config.Run
	fs := t.config.Fs
	final := filepath.Join(out, constants.FinalMergedDirectory)

	if len(rc.Train.ExportCommand) > 0 {
		if err := t.config.Runner.Run(ctx, common.Command{
			Name: "export",
			Argv: ExportArgs(rc, out, final),
		}); err != nil {
			return errors.Wrap(err, "exporting final model")
		}
	}
	if !aferoutil.IsDir(fs, final) {
		return fmt.Errorf("final merged model not found: %s", final)
	}

	err := t.config.Syncer.PushFolder(ctx, r.merged, final, "", nil)
	t.config.Metrics.RecordPush("final", err)
	if err != nil {
		return err
	}

	link, err := filepath.Abs(rc.AFinalLink())
	if err != nil {
		return err
	}
	if err := aferoutil.ReplaceSymlink(fs, final, link, t.logger); err != nil {
		return err
	}
	t.logger.WithField("link", link).WithField("target", final).Info("A_final updated")
	return nil
}
