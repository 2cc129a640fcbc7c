package controller

import (
	"context"
	"strconv"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/image"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SandboxService is the orchestrator surface the HTTP layer needs.
type SandboxService interface {
	Provision(ctx context.Context, img model.ProblemImage, userID int64) (model.ProvisionResult, error)
	Teardown(ctx context.Context, img model.ProblemImage, userID int64) (model.TeardownResult, error)
	Suspend(ctx context.Context, img model.ProblemImage, userID int64) (model.SandboxInfo, error)
	Resume(ctx context.Context, img model.ProblemImage, userID int64) (model.SandboxInfo, error)
	Describe(ctx context.Context, img model.ProblemImage, userID int64) (model.SandboxInfo, error)
	BuildProblemImage(ctx context.Context, img model.ProblemImage) (string, error)
	UploadArchive(ctx context.Context, in image.UploadInput) (model.ArchiveRef, error)
	VerifyFlag(digest, submitted string) bool
}

// SandboxController handles sandbox HTTP endpoints.
type SandboxController struct {
	svc SandboxService
}

// NewSandboxController creates a new SandboxController.
func NewSandboxController(svc SandboxService) *SandboxController {
	return &SandboxController{svc: svc}
}

// Routes whose handlers outlive the default request timeout.
const (
	BuildImagePath    = "/api/v1/sandbox/images/build"
	UploadArchivePath = "/api/v1/sandbox/archives"
)

// RegisterRoutes mounts the sandbox endpoints under /api/v1/sandbox.
// guarded runs in front of the routes that start containers or builds.
func (h *SandboxController) RegisterRoutes(r gin.IRouter, guarded ...gin.HandlerFunc) {
	heavy := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(guarded)+1)
		return append(append(chain, guarded...), handler)
	}
	group := r.Group("/api/v1/sandbox")
	group.POST("/provision", heavy(h.Provision)...)
	group.POST("/teardown", h.Teardown)
	group.POST("/suspend", h.Suspend)
	group.POST("/resume", heavy(h.Resume)...)
	group.POST("/flags/verify", h.VerifyFlag)
	r.POST(BuildImagePath, heavy(h.BuildImage)...)
	r.POST(UploadArchivePath, heavy(h.UploadArchive)...)
	group.GET("/:problem_name/:problem_id/:user_id", h.Describe)
}

// Provision creates and starts a sandbox for one user and problem.
func (h *SandboxController) Provision(c *gin.Context) {
	var req SandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.svc.Provision(c.Request.Context(), req.image(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Teardown removes a sandbox. A missing sandbox is reported, not rejected.
func (h *SandboxController) Teardown(c *gin.Context) {
	var req SandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.svc.Teardown(c.Request.Context(), req.image(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Suspend stops a sandbox without removing it.
func (h *SandboxController) Suspend(c *gin.Context) {
	h.transition(c, h.svc.Suspend)
}

// Resume starts a suspended sandbox.
func (h *SandboxController) Resume(c *gin.Context) {
	h.transition(c, h.svc.Resume)
}

func (h *SandboxController) transition(c *gin.Context, apply func(context.Context, model.ProblemImage, int64) (model.SandboxInfo, error)) {
	var req SandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	info, err := apply(c.Request.Context(), req.image(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

// Describe reports the engine state of one sandbox.
func (h *SandboxController) Describe(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("problem_id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return
	}
	img := model.ProblemImage{ProblemName: c.Param("problem_name"), ProblemID: problemID}
	info, err := h.svc.Describe(c.Request.Context(), img, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

// BuildImage builds the problem image from its stored archive.
func (h *SandboxController) BuildImage(c *gin.Context) {
	var req BuildImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	tag, err := h.svc.BuildProblemImage(c.Request.Context(), model.ProblemImage{
		ProblemName:   req.ProblemName,
		ProblemID:     req.ProblemID,
		ArchiveBucket: req.ArchiveBucket,
		ArchiveKey:    req.ArchiveKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, BuildImageResponse{ImageTag: tag})
}

// UploadArchive stores a multipart build context for a problem.
func (h *SandboxController) UploadArchive(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.PostForm("problem_id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "Archive file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.BadRequest(c, "Archive file is unreadable")
		return
	}
	defer file.Close()

	ref, err := h.svc.UploadArchive(c.Request.Context(), image.UploadInput{
		ProblemName: c.PostForm("problem_name"),
		ProblemID:   problemID,
		Filename:    header.Filename,
		Reader:      file,
		SizeBytes:   header.Size,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ref)
}

// VerifyFlag checks a submitted flag against a provisioning digest.
func (h *SandboxController) VerifyFlag(c *gin.Context) {
	var req VerifyFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	response.Success(c, VerifyFlagResponse{Correct: h.svc.VerifyFlag(req.FlagDigest, req.Flag)})
}

// SandboxRequest identifies a sandbox by its (problem, user) triple.
type SandboxRequest struct {
	ProblemName string `json:"problem_name" binding:"required"`
	ProblemID   int64  `json:"problem_id" binding:"required"`
	UserID      int64  `json:"user_id" binding:"required"`
}

func (r SandboxRequest) image() model.ProblemImage {
	return model.ProblemImage{ProblemName: r.ProblemName, ProblemID: r.ProblemID}
}

// BuildImageRequest defines the image build payload. Archive fields default server-side.
type BuildImageRequest struct {
	ProblemName   string `json:"problem_name" binding:"required"`
	ProblemID     int64  `json:"problem_id" binding:"required"`
	ArchiveBucket string `json:"archive_bucket"`
	ArchiveKey    string `json:"archive_key"`
}

// BuildImageResponse defines the image build response payload.
type BuildImageResponse struct {
	ImageTag string `json:"image_tag"`
}

// VerifyFlagRequest defines the flag check payload.
type VerifyFlagRequest struct {
	FlagDigest string `json:"flag_digest" binding:"required"`
	Flag       string `json:"flag" binding:"required"`
}

// VerifyFlagResponse defines the flag check response payload.
type VerifyFlagResponse struct {
	Correct bool `json:"correct"`
}
