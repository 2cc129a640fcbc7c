package image

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"go.uber.org/zap"
)

// archiveExtensions lists accepted build-context formats, longest suffix first.
var archiveExtensions = []string{".tar.zst", ".tar.gz", ".tgz", ".tar"}

var archiveContentTypes = map[string]string{
	".tar.zst": "application/zstd",
	".tar.gz":  "application/gzip",
	".tgz":     "application/gzip",
	".tar":     "application/x-tar",
}

// ArchiveExtension returns the recognised archive suffix of filename.
func ArchiveExtension(filename string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(filename))
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return ext, true
		}
	}
	return "", false
}

// ArchiveKey is the object key an upload for problem gets: <problemName>-<problemId><ext>.
func ArchiveKey(problemName string, problemID int64, ext string) string {
	return fmt.Sprintf("%s-%d%s", problemName, problemID, ext)
}

// UploadInput carries one build-context upload.
type UploadInput struct {
	ProblemName string
	ProblemID   int64
	Filename    string
	Reader      io.Reader
	SizeBytes   int64 // -1 when unknown
	ContentType string
}

// UploadArchive stores a build context under the problem's archive key, replacing any previous one.
func (b *Builder) UploadArchive(ctx context.Context, in UploadInput) (model.ArchiveRef, error) {
	img := model.ProblemImage{ProblemName: in.ProblemName, ProblemID: in.ProblemID}
	if err := img.Validate(); err != nil {
		return model.ArchiveRef{}, appErr.Wrapf(err, appErr.InvalidParams, "invalid problem: %v", err)
	}
	if in.Reader == nil {
		return model.ArchiveRef{}, appErr.New(appErr.ArchiveInvalid).WithMessage("archive content is required")
	}
	ext, ok := ArchiveExtension(in.Filename)
	if !ok {
		return model.ArchiveRef{}, appErr.Newf(appErr.ArchiveInvalid, "unsupported archive %q, expected one of %s",
			in.Filename, strings.Join(archiveExtensions, ", "))
	}
	if b.opts.Bucket == "" {
		return model.ArchiveRef{}, appErr.New(appErr.InvalidParams).WithMessage("archive bucket is not configured")
	}
	contentType := in.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = archiveContentTypes[ext]
	}

	ref := model.ArchiveRef{Bucket: b.opts.Bucket, Key: ArchiveKey(in.ProblemName, in.ProblemID, ext)}
	if err := b.storage.PutObject(ctx, ref.Bucket, ref.Key, in.Reader, in.SizeBytes, contentType); err != nil {
		return model.ArchiveRef{}, appErr.Wrap(err, appErr.ArchiveUploadError)
	}
	logger.Info(ctx, "build archive uploaded",
		zap.String("bucket", ref.Bucket),
		zap.String("key", ref.Key),
		zap.Int64("size", in.SizeBytes),
	)
	return ref, nil
}
