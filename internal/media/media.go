package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a source file by how it is decoded.
type Kind string

const (
	KindStill    Kind = "still"
	KindAnimated Kind = "animated"
	KindVideo    Kind = "video"
)

var extensionKinds = map[string]Kind{
	".gif":  KindAnimated,
	".png":  KindStill,
	".jpg":  KindStill,
	".jpeg": KindStill,
	".webp": KindStill,
	".mp4":  KindVideo,
	".m4v":  KindVideo,
	".mov":  KindVideo,
	".webm": KindVideo,
}

// KindForPath classifies a file by extension. The second return value is
// false for files the pipeline does not ingest.
func KindForPath(path string) (Kind, bool) {
	kind, ok := extensionKinds[strings.ToLower(filepath.Ext(path))]
	return kind, ok
}

// HashFile returns the hex SHA-256 of the file contents. This is the stable
// SourceMedia identity: renames keep the identity, edits change it.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DisplayName derives the listing name from a filename: the stem, with any
// trailing "_WxH" geometry suffix kept intact so operators recognize
// pre-sized uploads.
func DisplayName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
