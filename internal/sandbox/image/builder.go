// Package image builds problem images from build-context archives kept in object storage.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/storage"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	defaultBuildTimeout   = 10 * time.Minute
	defaultCleanupTimeout = 30 * time.Second
)

var defaultKeyOrder = []string{".tar", ".tar.zst", ".tar.gz", ".tgz"}

// Options configures the Builder.
type Options struct {
	// Bucket is used when a ProblemImage names no archive bucket.
	Bucket string
	// Timeout bounds a build when the caller context carries no deadline.
	Timeout time.Duration
	// CleanupTimeout bounds removing a half-built tag after a failure.
	CleanupTimeout time.Duration
	// MaxConcurrent caps parallel builds; zero means no cap.
	MaxConcurrent int
}

// Builder streams build contexts from object storage into the engine build API.
type Builder struct {
	engine  engine.Engine
	storage storage.ObjectStorage
	opts    Options
	slots   buildSlots
}

func NewBuilder(eng engine.Engine, obj storage.ObjectStorage, opts Options) *Builder {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultBuildTimeout
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaultCleanupTimeout
	}
	return &Builder{engine: eng, storage: obj, opts: opts, slots: newBuildSlots(opts.MaxConcurrent)}
}

// ResolveArchive fills in the default bucket and key. Without an explicit key it picks the
// first existing <name>-<id> archive in .tar, .tar.zst, .tar.gz, .tgz order, falling back to .tar.
func (b *Builder) ResolveArchive(ctx context.Context, img model.ProblemImage) model.ArchiveRef {
	ref := model.ArchiveRef{Bucket: img.ArchiveBucket, Key: img.ArchiveKey}
	if ref.Bucket == "" {
		ref.Bucket = b.opts.Bucket
	}
	if ref.Key != "" || ref.Bucket == "" {
		if ref.Key == "" {
			ref.Key = img.DefaultArchiveKey()
		}
		return ref
	}
	for _, ext := range defaultKeyOrder {
		key := ArchiveKey(img.ProblemName, img.ProblemID, ext)
		if _, err := b.storage.StatObject(ctx, ref.Bucket, key); err == nil {
			ref.Key = key
			return ref
		}
	}
	ref.Key = img.DefaultArchiveKey()
	return ref
}

// Build tags the image <lower(name)>-<id>:1.0.0 from the problem's archive and returns the tag.
// Any failure leaves no image under the tag.
func (b *Builder) Build(ctx context.Context, img model.ProblemImage) (string, error) {
	if err := img.Validate(); err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "invalid problem image: %v", err)
	}
	ref := b.ResolveArchive(ctx, img)
	if ref.Bucket == "" {
		return "", appErr.New(appErr.InvalidParams).WithMessage("archive bucket is required")
	}
	tag := img.ImageTag()

	// a longer caller deadline does not extend the build
	buildCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	// waiting for a slot counts against the build deadline; an existing image is left alone
	if err := b.slots.acquire(buildCtx); err != nil {
		return "", appErr.Wrapf(err, appErr.Timeout, "no build slot for %s before the deadline", tag)
	}
	defer b.slots.release()

	logger.Info(ctx, "image build started",
		zap.String("tag", tag),
		zap.String("bucket", ref.Bucket),
		zap.String("key", ref.Key),
	)
	started := time.Now()

	err := b.build(buildCtx, cancel, ref, tag)
	if err != nil {
		logger.Warn(ctx, "image build failed", zap.String("tag", tag), zap.Error(err))
		b.removeTag(ctx, tag)
		return "", err
	}

	logger.Info(ctx, "image build finished", zap.String("tag", tag), zap.Duration("elapsed", time.Since(started)))
	return tag, nil
}

func (b *Builder) build(ctx context.Context, abort context.CancelFunc, ref model.ArchiveRef, tag string) error {
	obj, err := b.storage.GetObject(ctx, ref.Bucket, ref.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return appErr.Wrapf(err, appErr.ArchiveNotFound, "build archive %s/%s not found", ref.Bucket, ref.Key)
		}
		return appErr.Wrapf(err, appErr.EngineUnavailable, "open build archive failed")
	}
	defer obj.Close()

	source := &trackingReader{r: obj}
	decoded, closeContext, err := decodeArchive(ref.Key, source)
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveInvalid, "decode build archive failed")
	}
	defer closeContext()
	// the engine reports a failing body read as a transport error; record it here instead
	buildContext := &trackingReader{r: decoded}

	pr, pw := io.Pipe()
	progress := &progressWatcher{abort: abort}
	done := make(chan struct{})
	go func() {
		defer close(done)
		progress.consume(ctx, pr)
	}()

	buildErr := b.engine.BuildImage(ctx, engine.BuildOptions{
		Tag:                tag,
		NoCache:            true,
		RemoveIntermediate: true,
		Context:            buildContext,
		Output:             pw,
	})
	_ = pw.CloseWithError(buildErr)
	<-done

	if msg := progress.failure(); msg != "" {
		return appErr.Newf(appErr.BuildFailure, "build failed: %s", msg)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return appErr.Newf(appErr.BuildFailure, "build timed out")
	}
	if readErr := source.failure(); readErr != nil {
		return appErr.Wrapf(readErr, appErr.BuildFailure, "stream build archive failed: %v", readErr)
	}
	if decodeErr := buildContext.failure(); decodeErr != nil {
		return appErr.Wrapf(decodeErr, appErr.BuildFailure, "malformed build archive: %v", decodeErr)
	}
	if buildErr != nil {
		if errors.Is(buildErr, engine.ErrUnavailable) {
			return appErr.Wrapf(buildErr, appErr.EngineUnavailable, "container engine unavailable")
		}
		return appErr.Wrapf(buildErr, appErr.BuildFailure, "build failed: %v", buildErr)
	}
	return nil
}

// removeTag deletes whatever image carries tag so provisioning sees ImageNotFound.
func (b *Builder) removeTag(ctx context.Context, tag string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.CleanupTimeout)
	defer cancel()
	err := b.engine.RemoveImage(cleanupCtx, tag)
	if err != nil && !errors.Is(err, engine.ErrImageNotFound) {
		logger.Error(ctx, "remove failed image tag failed", zap.String("tag", tag), zap.Error(err))
	}
}

// decodeArchive unwraps compressions the engine does not accept natively.
// gzip passes through: the build API decompresses it.
func decodeArchive(key string, r io.Reader) (io.Reader, func(), error) {
	if strings.HasSuffix(strings.ToLower(key), ".tar.zst") {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}
	return r, func() {}, nil
}

// trackingReader remembers the first read error from the stream it wraps.
type trackingReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackingReader) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// progressEvent is one object of the engine's JSON progress stream.
type progressEvent struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (e progressEvent) errorMessage() string {
	if e.Error != "" {
		return e.Error
	}
	if e.ErrorDetail != nil {
		return e.ErrorDetail.Message
	}
	return ""
}

// progressWatcher aborts the build on the first error event and keeps draining afterwards.
type progressWatcher struct {
	abort context.CancelFunc

	mu  sync.Mutex
	msg string
}

func (w *progressWatcher) consume(ctx context.Context, r io.Reader) {
	dec := json.NewDecoder(r)
	for {
		var ev progressEvent
		if err := dec.Decode(&ev); err != nil {
			if err != io.EOF {
				logger.Debug(ctx, "build progress stream ended", zap.Error(err))
			}
			_, _ = io.Copy(io.Discard, r)
			return
		}
		if msg := ev.errorMessage(); msg != "" {
			if w.record(msg) {
				w.abort()
			}
			continue
		}
		if line := strings.TrimSpace(ev.Stream); line != "" {
			logger.Debug(ctx, "build progress", zap.String("stream", line))
		} else if ev.Status != "" {
			logger.Debug(ctx, "build progress", zap.String("status", ev.Status))
		}
	}
}

func (w *progressWatcher) record(msg string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.msg != "" {
		return false
	}
	w.msg = strings.TrimSpace(msg)
	return true
}

func (w *progressWatcher) failure() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msg
}
