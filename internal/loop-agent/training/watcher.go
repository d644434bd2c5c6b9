package training

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
)

// pusher tracks which checkpoints of the output directory have been pushed.
type pusher struct {
	t      *Trainer
	out    string
	repos  repos
	pushed sets.Set[string]
	// firstSeen is when an incomplete checkpoint was first noticed.
	firstSeen      map[string]time.Time
	warnedNoExport bool
}

// runAndPush runs the trainer and pushes each checkpoint it saves. A failed
// checkpoint push stops the trainer and fails the stage.
func (t *Trainer) runAndPush(ctx context.Context, argv []string, out string, r repos, existing []string) error {
	p := &pusher{
		t:         t,
		out:       out,
		repos:     r,
		pushed:    sets.New(existing...),
		firstSeen: map[string]time.Time{},
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating checkpoint watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(out); err != nil {
		return fmt.Errorf("watching %s: %w", out, err)
	}

	trainCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done, err := t.config.Runner.Start(trainCtx, common.Command{Name: "trainer", Argv: argv})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	fail := func(err error) error {
		cancel()
		<-done
		return err
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				watcher.Events = nil
				continue
			}
			if ev.Has(fsnotify.Create) && strings.HasPrefix(filepath.Base(ev.Name), constants.CheckpointPrefix) {
				if aferoutil.IsDir(t.config.Fs, ev.Name) {
					_ = watcher.Add(ev.Name)
				}
			}
			if err := p.scan(ctx, false); err != nil {
				return fail(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				watcher.Errors = nil
				continue
			}
			t.logger.WithError(err).Warn("Checkpoint watcher error")
		case <-ticker.C:
			if err := p.scan(ctx, false); err != nil {
				return fail(err)
			}
		case err := <-done:
			if err != nil {
				return err
			}
			return p.scan(ctx, true)
		case <-ctx.Done():
			<-done
			return ctx.Err()
		}
	}
}

// complete reports whether the trainer has finished writing a checkpoint.
func (p *pusher) complete(name string, final bool) bool {
	fs := p.t.config.Fs
	if exists, _ := aferoutil.Exists(fs, filepath.Join(p.out, name, constants.TrainerStateFileName)); exists {
		return true
	}
	if final {
		return true
	}
	first, ok := p.firstSeen[name]
	if !ok {
		p.firstSeen[name] = time.Now()
		return false
	}
	if time.Since(first) >= p.t.config.SettleTimeout {
		p.t.logger.WithField("checkpoint", name).
			Warn("Checkpoint never wrote trainer state, pushing anyway")
		return true
	}
	return false
}

// scan pushes every complete checkpoint not yet pushed, in step order. After
// the trainer exits (final) every remaining checkpoint is pushed.
func (p *pusher) scan(ctx context.Context, final bool) error {
	names, err := LocalCheckpoints(p.t.config.Fs, p.out)
	if err != nil {
		return err
	}
	for _, name := range names {
		if p.pushed.Has(name) || !p.complete(name, final) {
			continue
		}
		if err := p.push(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (p *pusher) push(ctx context.Context, name string) error {
	t := p.t
	dir := filepath.Join(p.out, name)

	err := t.config.Syncer.PushFolder(ctx, p.repos.checkpoints, dir, name, constants.CheckpointUploadIgnorePatterns)
	t.config.Metrics.RecordPush("checkpoint", err)
	if err != nil {
		return fmt.Errorf("pushing %s: %w", name, err)
	}
	p.pushed.Insert(name)
	delete(p.firstSeen, name)
	t.logger.WithField("checkpoint", name).Info("Checkpoint pushed")

	p.exportSnapshot(ctx, name, dir)
	return nil
}

// exportSnapshot writes merged_step_<step> and pushes it. Failures are
// logged and otherwise ignored.
func (p *pusher) exportSnapshot(ctx context.Context, name, adapter string) {
	t := p.t
	rc := t.config.Run
	if len(rc.Train.ExportCommand) == 0 {
		if !p.warnedNoExport {
			t.logger.Warn("train.export_command is not configured, skipping merged snapshots")
			p.warnedNoExport = true
		}
		return
	}

	step, _ := CheckpointStep(name)
	merged := filepath.Join(p.out, fmt.Sprintf("%s%d", constants.MergedStepPrefix, step))
	log := t.logger.WithField("checkpoint", name).WithField("merged", merged)

	if err := t.config.Runner.Run(ctx, common.Command{Name: "export", Argv: ExportArgs(rc, adapter, merged)}); err != nil {
		t.config.Metrics.RecordPush("merged", err)
		log.WithError(err).Warn("Merged snapshot export failed")
		return
	}
	err := t.config.Syncer.PushFolder(ctx, p.repos.merged, merged, "", nil)
	t.config.Metrics.RecordPush("merged", err)
	if err != nil {
		log.WithError(err).Warn("Merged snapshot push failed")
		return
	}
	log.Info("Merged snapshot pushed")
}
