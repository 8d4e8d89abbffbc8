package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/sync/errgroup"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// ThumbnailService renders preview images of a model from fixed camera
// angles. Primary path is the native headless renderer binary; when that is
// unavailable or fails, an in-process placeholder render takes over so the
// pipeline still produces previews.
type ThumbnailService interface {
	Render(ctx context.Context, assetID uuid.UUID, modelURL string, angle string, opts ThumbnailOptions) *ThumbnailResult
	RenderAll(ctx context.Context, assetID uuid.UUID, modelURL string, angles []string, opts ThumbnailOptions) *ThumbnailBatchResult
	RenderTurntable(ctx context.Context, assetID uuid.UUID, modelURL string) *ThumbnailResult
}

type ThumbnailOptions struct {
	Width  int
	Height int
	Label  string // asset name drawn on placeholder renders
}

type ThumbnailResult struct {
	Success  bool   `json:"success"`
	Angle    string `json:"angle"`
	URL      string `json:"url,omitempty"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
	Message  string `json:"message,omitempty"`
}

type ThumbnailBatchResult struct {
	Results      []*ThumbnailResult `json:"results"`
	SuccessCount int                `json:"success_count"`
}

// cameraAngles maps the supported angle names to camera positions looking at
// the origin.
var cameraAngles = map[string][3]float64{
	"front":     {0, 0, 5},
	"back":      {0, 0, -5},
	"left":      {-5, 0, 0},
	"right":     {5, 0, 0},
	"top":       {0, 5, 0},
	"bottom":    {0, -5, 0},
	"isometric": {3.5, 3.5, 3.5},
}

type thumbnailService struct {
	log          *logger.Logger
	bucket       storage.BucketService
	rendererPath string
	workRoot     string
	timeout      time.Duration
	maxBytes     int64
	fontFace     font.Face
}

func NewThumbnailService(log *logger.Logger, bucket storage.BucketService) ThumbnailService {
	serviceLog := log.With("service", "ThumbnailService")
	svc := &thumbnailService{
		log:          serviceLog,
		bucket:       bucket,
		rendererPath: utils.GetEnv("MODEL_RENDER_PATH", "model-render", log),
		workRoot:     utils.GetEnv("PIPELINE_WORK_ROOT", "/tmp/polyforge-pipeline", log),
		timeout:      time.Duration(utils.GetEnvAsInt("THUMBNAIL_RENDER_TIMEOUT_SECONDS", 60, log)) * time.Second,
		maxBytes:     int64(utils.GetEnvAsInt("GLB_MAX_SIZE_BYTES", 100*1024*1024, log)),
	}
	if fontPath := utils.GetEnv("THUMBNAIL_FONT", "", log); fontPath != "" {
		face, err := loadFontFace(fontPath, 28)
		if err != nil {
			serviceLog.Warn("Could not load thumbnail font, labels disabled", "font", fontPath, "error", err)
		} else {
			svc.fontFace = face
		}
	}
	return svc
}

func (t *thumbnailService) Render(ctx context.Context, assetID uuid.UUID, modelURL string, angle string, opts ThumbnailOptions) *ThumbnailResult {
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}
	if _, ok := cameraAngles[angle]; !ok {
		return &ThumbnailResult{Angle: angle, Width: width, Height: height,
			Message: fmt.Sprintf("unknown camera angle %q", angle)}
	}

	data, err := fetchModel(ctx, modelURL, t.maxBytes)
	if err != nil {
		return &ThumbnailResult{Angle: angle, Width: width, Height: height,
			Message: fmt.Sprintf("fetch model: %v", err)}
	}

	var png []byte
	inPath, cleanup, err := writeTempModel(t.workRoot, assetID.String(), data)
	if err == nil {
		defer cleanup()
		png, err = t.renderNative(ctx, inPath, angle, width, height)
		if err != nil {
			t.log.Warn("Native renderer failed, falling back to placeholder",
				"asset_id", assetID, "angle", angle, "error", err)
		}
	}
	if png == nil {
		png, err = t.renderPlaceholder(angle, width, height, opts.Label)
		if err != nil {
			return &ThumbnailResult{Angle: angle, Width: width, Height: height,
				Message: fmt.Sprintf("placeholder render: %v", err)}
		}
	}

	key := fmt.Sprintf("%s/%s_%d.png", assetID.String(), angle, time.Now().UnixNano())
	if err := t.bucket.Upload(ctx, storage.ArtifactThumbnail, key, bytes.NewReader(png)); err != nil {
		return &ThumbnailResult{Angle: angle, Width: width, Height: height,
			Message: fmt.Sprintf("upload thumbnail: %v", err)}
	}

	return &ThumbnailResult{
		Success:  true,
		Angle:    angle,
		URL:      t.bucket.PublicURL(storage.ArtifactThumbnail, key),
		Width:    width,
		Height:   height,
		FileSize: int64(len(png)),
	}
}

// RenderAll fans out one render per angle. A slow or failed angle never
// blocks or cancels the others; the caller gets every per-angle outcome.
func (t *thumbnailService) RenderAll(ctx context.Context, assetID uuid.UUID, modelURL string, angles []string, opts ThumbnailOptions) *ThumbnailBatchResult {
	results := make([]*ThumbnailResult, len(angles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, angle := range angles {
		i, angle := i, angle
		g.Go(func() error {
			res := t.Render(gctx, assetID, modelURL, angle, opts)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			// Failures are recorded per angle, never returned, so the
			// group keeps running every other angle.
			return nil
		})
	}
	_ = g.Wait()

	batch := &ThumbnailBatchResult{Results: results}
	for _, r := range results {
		if r != nil && r.Success {
			batch.SuccessCount++
		}
	}
	return batch
}

// RenderTurntable is not implemented. It reports so explicitly instead of
// silently doing nothing.
func (t *thumbnailService) RenderTurntable(ctx context.Context, assetID uuid.UUID, modelURL string) *ThumbnailResult {
	return &ThumbnailResult{
		Success: false,
		Angle:   "turntable",
		Message: "360 turntable rendering is not implemented",
	}
}

func (t *thumbnailService) renderNative(ctx context.Context, inPath, angle string, width, height int) ([]byte, error) {
	if _, err := exec.LookPath(t.rendererPath); err != nil {
		return nil, fmt.Errorf("renderer binary %q not in PATH: %w", t.rendererPath, err)
	}
	outPath := fmt.Sprintf("%s.%s.png", inPath, angle)
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.rendererPath,
		"--input", inPath,
		"--output", outPath,
		"--angle", angle,
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("model-render failed: %w; out=%s", err, string(out))
	}
	png, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("renderer produced no output: %w", err)
	}
	return png, nil
}

// renderPlaceholder draws a framed preview card: gradient background, a
// wireframe cube projected from the angle's camera, and an optional label.
func (t *thumbnailService) renderPlaceholder(angle string, width, height int, label string) ([]byte, error) {
	// Render at 2x and scale down for cheap antialiasing.
	rw, rh := width*2, height*2
	dc := gg.NewContext(rw, rh)

	grad := gg.NewLinearGradient(0, 0, 0, float64(rh))
	grad.AddColorStop(0, color.NRGBA{R: 38, G: 42, B: 56, A: 255})
	grad.AddColorStop(1, color.NRGBA{R: 18, G: 20, B: 28, A: 255})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(rw), float64(rh))
	dc.Fill()

	drawWireCube(dc, cameraAngles[angle], float64(rw), float64(rh))

	if label != "" && t.fontFace != nil {
		dc.SetFontFace(t.fontFace)
		dc.SetColor(color.NRGBA{R: 220, G: 224, B: 235, A: 255})
		dc.DrawStringAnchored(label, float64(rw)/2, float64(rh)-40, 0.5, 0.5)
		dc.DrawStringAnchored(angle, float64(rw)/2, 40, 0.5, 0.5)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), dc.Image(), dc.Image().Bounds(), draw.Over, nil)

	out := gg.NewContextForRGBA(dst)
	var buf bytes.Buffer
	if err := out.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawWireCube projects a unit cube through a simple look-at camera and
// strokes its edges.
func drawWireCube(dc *gg.Context, eye [3]float64, w, h float64) {
	corners := [][3]float64{
		{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
		{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
	}
	edges := [][2]int{
		{0, 1}, {1, 2}, {2, 3}, {3, 0},
		{4, 5}, {5, 6}, {6, 7}, {7, 4},
		{0, 4}, {1, 5}, {2, 6}, {3, 7},
	}

	projected := make([][2]float64, len(corners))
	for i, c := range corners {
		projected[i] = projectPoint(c, eye, w, h)
	}

	dc.SetLineWidth(3)
	dc.SetColor(color.NRGBA{R: 120, G: 160, B: 255, A: 200})
	for _, e := range edges {
		a, b := projected[e[0]], projected[e[1]]
		dc.DrawLine(a[0], a[1], b[0], b[1])
	}
	dc.Stroke()
}

func projectPoint(p, eye [3]float64, w, h float64) [2]float64 {
	// Camera basis looking at the origin.
	fwd := normalize3([3]float64{-eye[0], -eye[1], -eye[2]})
	up := [3]float64{0, 1, 0}
	if math.Abs(fwd[1]) > 0.99 {
		up = [3]float64{0, 0, 1}
	}
	right := normalize3(cross3(fwd, up))
	trueUp := cross3(right, fwd)

	rel := [3]float64{p[0] - eye[0], p[1] - eye[1], p[2] - eye[2]}
	x := dot3(rel, right)
	y := dot3(rel, trueUp)
	z := dot3(rel, fwd)
	if z < 0.1 {
		z = 0.1
	}

	scale := math.Min(w, h) * 0.9
	return [2]float64{
		w/2 + (x/z)*scale,
		h/2 - (y/z)*scale,
	}
}

func normalize3(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot3(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
