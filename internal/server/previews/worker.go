package previews

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

const (
	queueCapacity = 10
	scanBatchSize = 10
)

// Uploads is the part of the uploads repository the worker needs.
type Uploads interface {
	Get(ctx context.Context, id models.UploadID) (*models.Upload, error)
	SetMimeType(ctx context.Context, id models.UploadID, mimeType string) error
	SetPreviewError(ctx context.Context, id models.UploadID, message string) error
	SetHasPreview(ctx context.Context, id models.UploadID) error
	GetAllWithoutPreview(ctx context.Context, offset, limit uint64) ([]models.Upload, error)
}

type Options struct {
	Interval time.Duration
	// MaxSize skips uploads larger than this many bytes; 0 disables the check.
	MaxSize int64
	Runner  Runner
}

// Worker generates previews on request and on a periodic scan. Each request
// or scan runs in its own goroutine; uploads within one run are processed
// sequentially.
type Worker struct {
	uploads  Uploads
	store    *cache.Store
	config   *Config
	runner   Runner
	interval time.Duration
	maxSize  int64
	goos     string
	log      logging.Logger

	requests chan []models.UploadID
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	tasks    sync.WaitGroup
	scanning atomic.Bool
}

func NewWorker(uploads Uploads, store *cache.Store, config *Config, opts Options, log logging.Logger) *Worker {
	if config == nil {
		config = &Config{}
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	return &Worker{
		uploads:  uploads,
		store:    store,
		config:   config,
		runner:   opts.Runner,
		interval: opts.Interval,
		maxSize:  opts.MaxSize,
		goos:     runtime.GOOS,
		log:      log.With("module", "previews"),
		requests: make(chan []models.UploadID, queueCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Send queues ids for preview generation without blocking. It reports false
// when the queue is full or the worker has stopped.
func (w *Worker) Send(ids []models.UploadID) bool {
	if len(ids) == 0 {
		return true
	}
	select {
	case <-w.stop:
		return false
	default:
	}
	select {
	case w.requests <- ids:
		return true
	default:
		w.log.Warn(context.Background(), "preview queue full, dropping request", "count", len(ids))
		return false
	}
}

// Stop ends the main loop. Requests and scans already running carry on.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Wait blocks until Run has returned and every spawned task has finished.
func (w *Worker) Wait() {
	<-w.done
	w.tasks.Wait()
}

// Run is the main loop. It returns when ctx is done or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)

	w.log.Info(ctx, "preview worker started",
		"interval", w.interval, "previewers", len(w.config.Previewers))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Spawned tasks outlive the loop.
	taskCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info(ctx, "preview worker stopping", "reason", ctx.Err())
			return nil
		case <-w.stop:
			w.log.Info(ctx, "preview worker stopped")
			return nil
		case ids := <-w.requests:
			w.spawn(func() { w.Generate(taskCtx, ids) })
		case <-ticker.C:
			if !w.scanning.CompareAndSwap(false, true) {
				w.log.Debug(ctx, "previous preview scan still running")
				continue
			}
			w.spawn(func() {
				defer w.scanning.Store(false)
				w.Scan(taskCtx)
			})
		}
	}
}

func (w *Worker) spawn(fn func()) {
	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		fn()
	}()
}

// Generate processes the given uploads in order. Missing uploads are skipped.
func (w *Worker) Generate(ctx context.Context, ids []models.UploadID) {
	for _, id := range ids {
		upload, err := w.uploads.Get(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			w.log.Warn(ctx, "upload for preview not found", "upload", id)
			continue
		}
		if err != nil {
			w.log.Error(ctx, "failed to load upload for preview", "upload", id, "error", err)
			continue
		}
		w.process(ctx, upload)
	}
}

// Scan pages through every upload without a preview or recorded error.
func (w *Worker) Scan(ctx context.Context) {
	var offset uint64
	var processed, settled int
	for {
		batch, err := w.uploads.GetAllWithoutPreview(ctx, offset, scanBatchSize)
		if err != nil {
			w.log.Error(ctx, "failed to list uploads without preview", "offset", offset, "error", err)
			return
		}

		// Settled uploads drop out of the result set, so only the ones still
		// pending move the offset forward.
		var pending uint64
		for i := range batch {
			processed++
			if w.process(ctx, &batch[i]) {
				settled++
			} else {
				pending++
			}
		}

		if len(batch) < scanBatchSize {
			break
		}
		offset += pending
	}
	w.log.Info(ctx, "preview scan finished", "processed", processed, "settled", settled)
}

// process reports whether the upload left the work set, either with a
// preview or a recorded error.
func (w *Worker) process(ctx context.Context, upload *models.Upload) bool {
	log := w.log.With("upload", upload.ID, "slug", upload.Slug)

	if upload.HasPreview || upload.PreviewError != nil {
		return true
	}
	if w.maxSize > 0 && upload.Size > w.maxSize {
		log.Debug(ctx, "upload too large for preview", "size", upload.Size, "max", w.maxSize)
		return false
	}
	if !w.store.Exists(upload.Slug) {
		log.Warn(ctx, "cache file missing, skipping preview")
		return false
	}

	mimeType, ok := w.mimeType(ctx, log, upload)
	if !ok {
		return false
	}

	previewer := w.config.Find(mimeType)
	if previewer == nil {
		log.Debug(ctx, "no previewer for mime type", "mime_type", mimeType)
		return false
	}
	if len(previewer.Commands) == 0 {
		log.Warn(ctx, "previewer has no commands", "mime_type", mimeType)
		return false
	}

	vars := map[string]string{
		VarInput:     w.store.Path(upload.Slug),
		VarInputBase: upload.Slug,
		VarOutput:    w.store.PreviewPath(upload.Slug),
		VarTempDir:   w.store.TempDir(),
	}

	for i, command := range previewer.Commands {
		name, args, err := command.Build(w.goos, vars)
		if err != nil {
			log.Error(ctx, "failed to build preview command", "command", i, "error", err)
			return false
		}

		log.Debug(ctx, "running preview command", "name", name, "args", args)
		res, err := w.runner.Run(ctx, name, args...)
		if err != nil {
			return w.fail(ctx, log, upload.ID, "Failed to execute preview command: "+err.Error())
		}
		if res.ExitCode != 0 {
			msg := strings.TrimSpace(string(res.Stderr))
			if msg == "" {
				msg = fmt.Sprintf("exit status %d", res.ExitCode)
			}
			return w.fail(ctx, log, upload.ID, msg)
		}
	}

	if err := w.uploads.SetHasPreview(ctx, upload.ID); err != nil {
		log.Error(ctx, "failed to mark preview generated", "error", err)
		return false
	}
	log.Info(ctx, "preview generated", "mime_type", mimeType)
	return true
}

func (w *Worker) mimeType(ctx context.Context, log logging.Logger, upload *models.Upload) (string, bool) {
	if upload.MimeType != nil {
		return *upload.MimeType, true
	}

	res, err := w.runner.Run(ctx, "file", "--mime-type", "-b", w.store.Path(upload.Slug))
	if err != nil {
		log.Error(ctx, "failed to detect mime type", "error", err)
		return "", false
	}
	if res.ExitCode != 0 {
		log.Error(ctx, "mime type detection failed",
			"exit_code", res.ExitCode, "stderr", strings.TrimSpace(string(res.Stderr)))
		return "", false
	}

	mimeType := strings.TrimSpace(string(res.Stdout))
	if mimeType == "" {
		log.Warn(ctx, "mime type detection returned nothing")
		return "", false
	}
	if err := w.uploads.SetMimeType(ctx, upload.ID, mimeType); err != nil {
		log.Error(ctx, "failed to store mime type", "error", err)
		return "", false
	}
	upload.MimeType = &mimeType
	return mimeType, true
}

func (w *Worker) fail(ctx context.Context, log logging.Logger, id models.UploadID, msg string) bool {
	log.Warn(ctx, "preview generation failed", "error", msg)
	if err := w.uploads.SetPreviewError(ctx, id, msg); err != nil {
		log.Error(ctx, "failed to record preview error", "error", err)
		return false
	}
	return true
}
