package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "drivecal/internal/log"
)

// Feed is an instructor's ICS unavailability subscription.
type Feed struct {
	InstructorID string
	URL          string
}

// cacheMeta holds HTTP validators for one feed URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk, so an unreachable calendar server does not blank an
// instructor's unavailability.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher storing bodies under cacheDir.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// Fetch returns the feed body, from the network or from the disk cache on
// 304 or network failure. fromCache reports which.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (body []byte, fromCache bool, err error) {
	if feed.URL == "" {
		return nil, false, errors.New("ics: feed URL is empty")
	}

	dir := f.cacheDirFor(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 && ctx.Err() == nil {
			appLog.Warn("ics fetch failed, using cached body", "instructor", feed.InstructorID, "url", redactURL(feed.URL), "err", err)
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		m := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(dir, m, data); err != nil {
			appLog.Error("ics cache save failed", err, "instructor", feed.InstructorID)
		}
		appLog.Debug("ics fetched", "instructor", feed.InstructorID, "url", redactURL(feed.URL), "bytes", len(data))
		return data, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("ics: 304 Not Modified without cached body")
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("ics fetch non-OK, using cached body", "instructor", feed.InstructorID, "status", resp.StatusCode)
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("ics: fetch %s: %s", redactURL(feed.URL), resp.Status)
	}
}

func (f *Fetcher) cacheDirFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var m cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return cacheMeta{}, err
	}
	return m, nil
}

func saveCache(dir string, m cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs usually embed secrets.
func redactURL(u string) string {
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + "/...(redacted)"
}
