// Package imagestore persists inline image bytes returned by image-generation
// models to local disk so the OpenAI-shaped response can reference them by
// URL instead of embedding base64 payloads (spec §3 StoredImage, §4.5).
package imagestore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var mimeExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
}

// ImageStore writes decoded image bytes under Dir, atomically, and prunes
// old files beyond MaxImages by mtime.
type ImageStore struct {
	Dir       string
	MaxImages int
}

// New constructs an ImageStore. dir is created lazily on first Save.
func New(dir string, maxImages int) *ImageStore {
	return &ImageStore{Dir: dir, MaxImages: maxImages}
}

// normalizePayload strips an optional "data:image/...;base64," prefix and
// surrounding whitespace.
func normalizePayload(payload string) string {
	data := strings.TrimSpace(payload)
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(strings.ToLower(data), "data:image/") {
		data = data[idx+1:]
	}
	return strings.TrimSpace(data)
}

// decodeBase64 tolerates both standard and URL-safe alphabets, with or
// without padding, matching the variety of encoders OpenAI clients use.
func decodeBase64(data string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(data); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("imagestore: invalid base64 payload")
}

// SaveBase64 decodes base64Data and persists it under Dir, returning the
// stored filename (not a full path). The write is temp-file-then-rename so
// a concurrent reader (or a crash mid-write) never observes a partial file.
func (s *ImageStore) SaveBase64(base64Data, mimeType string) (string, error) {
	normalized := normalizePayload(base64Data)
	if normalized == "" {
		return "", fmt.Errorf("imagestore: empty image payload")
	}
	raw, err := decodeBase64(normalized)
	if err != nil {
		return "", err
	}

	ext := mimeExt[strings.ToLower(mimeType)]
	if ext == "" {
		ext = "bin"
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("imagestore: generating filename: %w", err)
	}
	filename := fmt.Sprintf("%d_%s.%s", time.Now().UnixMilli(), hex.EncodeToString(randBytes), ext)

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("imagestore: creating directory: %w", err)
	}

	path := filepath.Join(s.Dir, filename)
	tmpPath := filepath.Join(s.Dir, "."+filename+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("imagestore: opening temp file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("imagestore: writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("imagestore: syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("imagestore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("imagestore: renaming into place: %w", err)
	}

	s.pruneOldFiles()
	return filename, nil
}

type fileWithMtime struct {
	name  string
	mtime time.Time
}

// pruneOldFiles keeps at most MaxImages newest files by mtime. Best-effort:
// errors are ignored, never surfaced, since a failed prune must not fail the
// request that triggered it.
func (s *ImageStore) pruneOldFiles() {
	if s.MaxImages <= 0 {
		return
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return
	}
	files := make([]fileWithMtime, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileWithMtime{name: entry.Name(), mtime: info.ModTime()})
	}
	if len(files) <= s.MaxImages {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })
	for _, f := range files[s.MaxImages:] {
		os.Remove(filepath.Join(s.Dir, f.name))
	}
}
