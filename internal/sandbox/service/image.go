package service

import (
	"context"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/image"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"go.uber.org/zap"
)

// BuildProblemImage builds img from its archive and returns the image tag.
func (s *Service) BuildProblemImage(ctx context.Context, img model.ProblemImage) (string, error) {
	tag, err := s.builder.Build(ctx, img)
	if err != nil {
		return "", err
	}
	s.publish(ctx, model.LifecycleEvent{
		Type:        model.EventImageBuilt,
		ProblemName: img.ProblemName,
		ProblemID:   img.ProblemID,
		ImageTag:    tag,
	})
	return tag, nil
}

// UploadArchive stores a build context for a later BuildProblemImage.
func (s *Service) UploadArchive(ctx context.Context, in image.UploadInput) (model.ArchiveRef, error) {
	ref, err := s.builder.UploadArchive(ctx, in)
	if err != nil {
		logger.Warn(ctx, "upload build archive failed", zap.String("problem_name", in.ProblemName), zap.Error(err))
		return model.ArchiveRef{}, err
	}
	return ref, nil
}
