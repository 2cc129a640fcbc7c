package image_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/image"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

func TestArchiveExtension(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ctx.tar":     ".tar",
		"CTX.TAR.GZ":  ".tar.gz",
		"ctx.tgz":     ".tgz",
		"ctx.tar.zst": ".tar.zst",
		"ctx.zip":     "",
		".tar":        "",
		"ctx.tar.bz2": "",
		"dir/ctx.tar": ".tar",
	}
	for name, want := range cases {
		got, ok := image.ArchiveExtension(name)
		if got != want || ok != (want != "") {
			t.Fatalf("%s: expected %q, got %q (%v)", name, want, got, ok)
		}
	}
}

func TestUploadArchiveStoresUnderProblemKey(t *testing.T) {
	t.Parallel()
	b, _, obj := newBuilder(t)

	ref, err := b.UploadArchive(context.Background(), image.UploadInput{
		ProblemName: "algo101",
		ProblemID:   7,
		Filename:    "context.tar.gz",
		Reader:      strings.NewReader("gz-bytes"),
		SizeBytes:   8,
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if ref.Bucket != bucket || ref.Key != "algo101-7.tar.gz" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	data, contentType, ok := obj.Object(bucket, "algo101-7.tar.gz")
	if !ok || string(data) != "gz-bytes" {
		t.Fatalf("expected stored archive")
	}
	if contentType != "application/gzip" {
		t.Fatalf("unexpected content type: %s", contentType)
	}
}

func TestUploadArchiveRejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	b, _, _ := newBuilder(t)
	_, err := b.UploadArchive(context.Background(), image.UploadInput{
		ProblemName: "algo101",
		ProblemID:   7,
		Filename:    "context.zip",
		Reader:      strings.NewReader("zip"),
	})
	if !appErr.Is(err, appErr.ArchiveInvalid) {
		t.Fatalf("expected archive invalid, got %v", err)
	}
}

func TestUploadArchiveStorageFailure(t *testing.T) {
	t.Parallel()
	b, _, obj := newBuilder(t)
	obj.PutErr = errors.New("bucket unreachable")
	_, err := b.UploadArchive(context.Background(), image.UploadInput{
		ProblemName: "algo101",
		ProblemID:   7,
		Filename:    "context.tar",
		Reader:      strings.NewReader("tar"),
	})
	if !appErr.Is(err, appErr.ArchiveUploadError) {
		t.Fatalf("expected archive upload error, got %v", err)
	}
	if !strings.Contains(err.Error(), "bucket unreachable") || !errors.Is(err, obj.PutErr) {
		t.Fatalf("expected storage cause kept, got %v", err)
	}
}
