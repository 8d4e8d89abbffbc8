package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// fetchModel downloads the model bytes behind a URL with a hard size cap.
// It deliberately fetches only the given URL; references embedded in the
// model (external buffers, images) are never followed.
func fetchModel(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("model url required")
	}

	// Local paths show up in worker runtimes that share a scratch volume.
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		data, err := os.ReadFile(rawURL)
		if err != nil {
			return nil, fmt.Errorf("read model file: %w", err)
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("model file %d bytes exceeds cap %d", len(data), maxBytes)
		}
		return data, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch model: unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read model body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("model exceeds cap of %d bytes", maxBytes)
	}
	return data, nil
}

// writeTempModel writes model bytes under dir and returns the path plus a
// cleanup func that always removes it.
func writeTempModel(dir string, assetID string, data []byte) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir scratch dir: %w", err)
	}
	path := fmt.Sprintf("%s/%s_%d.glb", strings.TrimRight(dir, "/"), assetID, time.Now().UnixNano())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp model: %w", err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}
