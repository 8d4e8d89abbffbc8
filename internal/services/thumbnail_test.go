package services

import (
	"bytes"
	"context"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/logger"
)

func newTestThumbnailService(t *testing.T, bucket *fakeBucket) *thumbnailService {
	t.Helper()
	return &thumbnailService{
		log:          logger.NewNop(),
		bucket:       bucket,
		rendererPath: "definitely-not-installed-renderer",
		workRoot:     t.TempDir(),
		timeout:      5 * time.Second,
		maxBytes:     100 * 1024 * 1024,
	}
}

func TestThumbnailRender_PlaceholderFallback(t *testing.T) {
	bucket := newFakeBucket()
	svc := newTestThumbnailService(t, bucket)

	res := svc.Render(context.Background(), uuid.New(), writeSourceModel(t), "front", ThumbnailOptions{Width: 64, Height: 64})
	if !res.Success {
		t.Fatalf("render failed: %s", res.Message)
	}
	if res.URL == "" {
		t.Fatal("successful render must carry a URL")
	}
	if res.Width != 64 || res.Height != 64 {
		t.Fatalf("dimensions: want=64x64 got=%dx%d", res.Width, res.Height)
	}

	// The uploaded artifact must decode as a PNG of the requested size.
	if len(bucket.uploaded) != 1 {
		t.Fatalf("uploads: want=1 got=%d", len(bucket.uploaded))
	}
	data := bucket.objects[bucket.uploaded[0]]
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("artifact is not a valid png: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("png dimensions: want=64x64 got=%dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestThumbnailRender_UnknownAngle(t *testing.T) {
	svc := newTestThumbnailService(t, newFakeBucket())
	res := svc.Render(context.Background(), uuid.New(), writeSourceModel(t), "diagonal", ThumbnailOptions{})
	if res.Success {
		t.Fatal("unknown angle must not succeed")
	}
	if !strings.Contains(res.Message, "unknown camera angle") {
		t.Fatalf("expected unknown-angle message, got %q", res.Message)
	}
}

func TestThumbnailRender_DefaultDimensions(t *testing.T) {
	svc := newTestThumbnailService(t, newFakeBucket())
	res := svc.Render(context.Background(), uuid.New(), writeSourceModel(t), "isometric", ThumbnailOptions{})
	if !res.Success {
		t.Fatalf("render failed: %s", res.Message)
	}
	if res.Width != 512 || res.Height != 512 {
		t.Fatalf("default dimensions: want=512x512 got=%dx%d", res.Width, res.Height)
	}
}

func TestThumbnailRenderAll_PartialFailureKeepsGoing(t *testing.T) {
	svc := newTestThumbnailService(t, newFakeBucket())
	angles := []string{"front", "bogus", "top"}

	batch := svc.RenderAll(context.Background(), uuid.New(), writeSourceModel(t), angles, ThumbnailOptions{Width: 32, Height: 32})
	if len(batch.Results) != len(angles) {
		t.Fatalf("results: want=%d got=%d", len(angles), len(batch.Results))
	}
	if batch.SuccessCount != 2 {
		t.Fatalf("success count: want=2 got=%d", batch.SuccessCount)
	}
	// Result order matches the requested angle order.
	for i, angle := range angles {
		if batch.Results[i] == nil || batch.Results[i].Angle != angle {
			t.Fatalf("result %d angle: want=%s got=%+v", i, angle, batch.Results[i])
		}
	}
	if batch.Results[1].Success {
		t.Fatal("bogus angle must fail")
	}
}

func TestThumbnailRenderTurntable_ExplicitlyUnimplemented(t *testing.T) {
	svc := newTestThumbnailService(t, newFakeBucket())
	res := svc.RenderTurntable(context.Background(), uuid.New(), "whatever.glb")
	if res.Success {
		t.Fatal("turntable must report failure")
	}
	if !strings.Contains(res.Message, "not implemented") {
		t.Fatalf("expected explicit not-implemented message, got %q", res.Message)
	}
}

func TestCameraAngles_CoverDocumentedSet(t *testing.T) {
	for _, angle := range []string{"front", "back", "left", "right", "top", "bottom", "isometric"} {
		if _, ok := cameraAngles[angle]; !ok {
			t.Fatalf("missing camera angle %q", angle)
		}
	}
	if pos := cameraAngles["isometric"]; pos != [3]float64{3.5, 3.5, 3.5} {
		t.Fatalf("isometric camera position: got %v", pos)
	}
}
