// Package asset fetches protected product files by key and stamps them with
// the buyer's identity before release.
package asset

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Placeholder is the base64 marker embedded in product builds, replaced per buyer.
const Placeholder = "e3t4eHh4ZW1haWx4eHh4fX0="

const HTMLContentType = "text/html; charset=utf-8"

var (
	ErrNotFound    = errors.New("asset not found")
	ErrUnsupported = errors.New("only HTML files are supported")
)

type Store interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// File is a release-ready asset.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Personalize replaces the first placeholder occurrence with base64(email).
func Personalize(content []byte, email string) []byte {
	encoded := base64.StdEncoding.EncodeToString([]byte(email))
	return []byte(strings.Replace(string(content), Placeholder, encoded, 1))
}

// Release fetches key from store and personalizes it for email.
func Release(ctx context.Context, store Store, key, email string) (File, error) {
	name := path.Base(key)
	if strings.ToLower(path.Ext(name)) != ".html" {
		return File{}, ErrUnsupported
	}

	content, err := store.Fetch(ctx, key)
	if err != nil {
		return File{}, err
	}

	return File{
		Name:        name,
		ContentType: HTMLContentType,
		Content:     Personalize(content, email),
	}, nil
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid asset key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid asset key %q", key)
	}
	return cleaned, nil
}

// DirStore serves assets from a local directory.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) Fetch(_ context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read asset %s: %w", cleaned, err)
	}
	return content, nil
}

// HTTPStore fetches assets from a bucket exposed over HTTP(S).
type HTTPStore struct {
	baseURL    *url.URL
	httpClient *http.Client
	maxBytes   int64
}

func NewHTTPStore(rawBaseURL string) (*HTTPStore, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawBaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse asset base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("asset base url must be http or https")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	return &HTTPStore{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxBytes: 32 << 20,
	}, nil
}

func (s *HTTPStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	target := s.baseURL.JoinPath(cleaned)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build asset request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("asset fetch failed with status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset body: %w", err)
	}
	if int64(len(content)) > s.maxBytes {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", cleaned, s.maxBytes)
	}
	return content, nil
}
