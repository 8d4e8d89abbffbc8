package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/polyforge/polyforge-backend/internal/logger"
)

// ArtifactKind selects the key prefix an uploaded pipeline output lands under.
type ArtifactKind string

const (
	ArtifactModel     ArtifactKind = "model"
	ArtifactTexture   ArtifactKind = "texture"
	ArtifactLOD       ArtifactKind = "lod"
	ArtifactUSDZ      ArtifactKind = "usdz"
	ArtifactThumbnail ArtifactKind = "thumbnail"
)

// BucketService stores pipeline artifacts in a single GCS bucket. In emulator
// mode (STORAGE_EMULATOR_HOST set) it talks to fake-gcs-server without auth.
type BucketService interface {
	Upload(ctx context.Context, kind ArtifactKind, key string, r io.Reader) error
	Download(ctx context.Context, kind ArtifactKind, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, kind ArtifactKind, key string) error
	ListKeys(ctx context.Context, kind ArtifactKind, prefix string) ([]string, error)
	PublicURL(kind ArtifactKind, key string) string
}

type bucketService struct {
	log           *logger.Logger
	client        *gcs.Client
	bucketName    string
	publicBaseURL string
	emulator      bool
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	bucketName := strings.TrimSpace(os.Getenv("ASSET_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var ASSET_GCS_BUCKET_NAME")
	}

	emulatorHost := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")
	publicBaseURL, err := resolvePublicBaseURL(emulatorHost)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var client *gcs.Client
	if emulatorHost != "" {
		client, err = gcs.NewClient(ctx, option.WithoutAuthentication())
	} else {
		client, err = gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized",
		"bucket", bucketName,
		"emulator_host", emulatorHost,
		"public_base_url", publicBaseURL,
	)

	return &bucketService{
		log:           serviceLog,
		client:        client,
		bucketName:    bucketName,
		publicBaseURL: publicBaseURL,
		emulator:      emulatorHost != "",
	}, nil
}

func resolvePublicBaseURL(emulatorHost string) (string, error) {
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL"))
	if raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return "", fmt.Errorf("invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL", raw)
		}
		return strings.TrimRight(raw, "/"), nil
	}
	if emulatorHost != "" {
		return emulatorHost, nil
	}
	return "", nil
}

func objectKey(kind ArtifactKind, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	return fmt.Sprintf("%s/%s", kind, key)
}

func (bs *bucketService) Upload(ctx context.Context, kind ArtifactKind, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.bucketName).Object(objectKey(kind, key)).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %q: %w", key, err)
	}
	return nil
}

func (bs *bucketService) Download(ctx context.Context, kind ArtifactKind, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	rc, err := bs.client.Bucket(bs.bucketName).Object(objectKey(kind, key)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	return rc, nil
}

func (bs *bucketService) Delete(ctx context.Context, kind ArtifactKind, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.client.Bucket(bs.bucketName).Object(objectKey(kind, key)).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, kind ArtifactKind, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.client.Bucket(bs.bucketName).Objects(ctx, &gcs.Query{Prefix: objectKey(kind, prefix)})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (bs *bucketService) PublicURL(kind ArtifactKind, key string) string {
	obj := objectKey(kind, key)
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, bs.bucketName, obj)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, obj)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".glb"):
		return "model/gltf-binary"
	case strings.HasSuffix(s, ".gltf"):
		return "model/gltf+json"
	case strings.HasSuffix(s, ".usdz"):
		return "model/vnd.usdz+zip"
	case strings.HasSuffix(s, ".ktx2"):
		return "image/ktx2"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}
