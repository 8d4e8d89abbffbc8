package services

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// CDNRewriter maps origin storage URLs onto the configured CDN endpoint and
// assigns a cache policy per artifact kind. Disabled means identity.
type CDNRewriter interface {
	Rewrite(storageURL string, kind storage.ArtifactKind) string
	CacheHeaders(kind storage.ArtifactKind) map[string]string
	Enabled() bool
}

type cdnRewriter struct {
	log     *logger.Logger
	enabled bool
	baseURL string
}

func NewCDNRewriter(log *logger.Logger) CDNRewriter {
	serviceLog := log.With("service", "CDNRewriter")
	enabled := utils.GetEnvAsBool("CDN_ENABLED", false, log)
	baseURL := strings.TrimRight(utils.GetEnv("CDN_BASE_URL", "", log), "/")
	if enabled && baseURL == "" {
		serviceLog.Warn("CDN_ENABLED set without CDN_BASE_URL, rewriting disabled")
		enabled = false
	}
	return &cdnRewriter{log: serviceLog, enabled: enabled, baseURL: baseURL}
}

// NewCDNRewriterWithConfig is the explicit constructor used by tests.
func NewCDNRewriterWithConfig(log *logger.Logger, enabled bool, baseURL string) CDNRewriter {
	return &cdnRewriter{
		log:     log.With("service", "CDNRewriter"),
		enabled: enabled && strings.TrimSpace(baseURL) != "",
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *cdnRewriter) Enabled() bool { return c.enabled }

// Rewrite strips the leading bucket segment from the origin path and
// prepends the CDN endpoint. Anything it cannot parse comes back unchanged.
func (c *cdnRewriter) Rewrite(storageURL string, kind storage.ArtifactKind) string {
	if !c.enabled {
		return storageURL
	}
	parsed, err := url.Parse(storageURL)
	if err != nil || parsed.Host == "" {
		return storageURL
	}
	path := strings.TrimLeft(parsed.Path, "/")
	if path == "" {
		return storageURL
	}
	// First path segment is the bucket name on origin URLs.
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return storageURL
	}
	return fmt.Sprintf("%s/%s", c.baseURL, path)
}

func (c *cdnRewriter) CacheHeaders(kind storage.ArtifactKind) map[string]string {
	switch kind {
	case storage.ArtifactTexture:
		// Compressed textures are content-addressed per upload, cache forever.
		return map[string]string{"Cache-Control": "public, max-age=31536000, immutable"}
	case storage.ArtifactLOD:
		return map[string]string{"Cache-Control": "public, max-age=86400, stale-while-revalidate=604800"}
	default:
		return map[string]string{"Cache-Control": "public, max-age=3600"}
	}
}
