package httpserver

import (
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// Route binds a public submit path to its lane and the engine path the
// worker will call. The facade owns this mapping; the adapters never see
// it. The set is closed: anything else 404s at the router.
type Route struct {
	Pattern string
	JobType string
	Lane    domain.Lane
	// NewRequest returns the validation model for the route's payload.
	NewRequest func() any
}

// Routes is the closed set of submit endpoints.
var Routes = []Route{
	{
		Pattern:    "/api/v1/camera-angle/jobs",
		JobType:    "/api/v1/camera-angle/jobs",
		Lane:       domain.LaneGPU,
		NewRequest: func() any { return &CameraAngleRequest{} },
	},
	{
		Pattern:    "/api/v1/qwen-image-edit/jobs",
		JobType:    "/api/v1/qwen-image-edit/jobs",
		Lane:       domain.LaneGPU,
		NewRequest: func() any { return &ImageEditRequest{} },
	},
	{
		Pattern:    "/api/v1/face-mask/tasks",
		JobType:    "/api/v1/face-mask/jobs",
		Lane:       domain.LaneCPU,
		NewRequest: func() any { return &FaceMaskRequest{} },
	},
	{
		Pattern:    "/api/v1/full-face-swap/tasks",
		JobType:    "/api/v1/full-face-swap/jobs",
		Lane:       domain.LaneCPU,
		NewRequest: func() any { return &FullFaceSwapRequest{} },
	},
}

// CameraAngleRequest is the payload for camera angle transformation.
// The body is forwarded verbatim to the engine after validation.
type CameraAngleRequest struct {
	ImageURL   string `json:"image_url" validate:"required"`
	Prompt     string `json:"prompt"`
	Vertical   int    `json:"vertical" validate:"min=-2,max=2"`
	Horizontal int    `json:"horizontal" validate:"min=-2,max=2"`
	Zoom       int    `json:"zoom" validate:"min=-1,max=1"`
	Seed       *int64 `json:"seed"`
	Steps      *int   `json:"steps"`
}

// ImageEditRequest is the payload for prompt-driven image editing.
type ImageEditRequest struct {
	ImageURL    string   `json:"image_url" validate:"required"`
	Prompt      string   `json:"prompt" validate:"required"`
	Image2URL   string   `json:"image2_url"`
	Image3URL   string   `json:"image3_url"`
	Seed        *int64   `json:"seed"`
	Steps       *int     `json:"steps"`
	CFG         *float64 `json:"cfg"`
	SamplerName string   `json:"sampler_name"`
	Scheduler   string   `json:"scheduler"`
	Denoise     *float64 `json:"denoise"`
}

// FaceMaskRequest is the payload for face mask extraction (CPU lane).
type FaceMaskRequest struct {
	ImageURL           string `json:"image_url" validate:"required"`
	FacePositionPrompt string `json:"face_position_prompt"`
	FaceIndex          *int   `json:"face_index"`
}

// FullFaceSwapRequest is the payload for full face swap (CPU lane).
type FullFaceSwapRequest struct {
	SourceImageURL     string `json:"source_image_url" validate:"required"`
	TargetFaceURL      string `json:"target_face_url" validate:"required"`
	Model              string `json:"model"`
	FacePositionPrompt string `json:"face_position_prompt"`
	ExpressionPrompt   string `json:"expression_prompt"`
	FaceIndex          *int   `json:"face_index"`
	Size               string `json:"size"`
	SkipMask           *bool  `json:"skip_mask"`
}
