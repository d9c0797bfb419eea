// Package images is the image storage capability the pipeline calls.
// The pipeline only needs "save these bytes, give me a public URL"; the
// mechanics behind that are deliberately out of its view.
package images

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store saves post photos and returns a publicly servable URL.
type Store interface {
	Save(ctx context.Context, channel string, messageID int64, r io.Reader) (string, error)
}

// Dir is a Store writing files under a local directory, mirroring the
// tg-import/<channel>/<message id>.jpg layout of the hosted bucket.
type Dir struct {
	root    string
	baseURL string
}

// NewDir creates a directory-backed image store rooted at root. Saved
// images resolve to baseURL + their relative path.
func NewDir(root, baseURL string) *Dir {
	return &Dir{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Save writes the image and returns its URL. Re-saving the same
// channel/message pair overwrites the previous file.
func (d *Dir) Save(_ context.Context, channel string, messageID int64, r io.Reader) (string, error) {
	rel := filepath.Join("tg-import", strings.ToLower(channel), fmt.Sprintf("%d.jpg", messageID))
	dst := filepath.Join(d.root, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close image file: %w", err)
	}

	return d.baseURL + "/" + path.Join("tg-import", strings.ToLower(channel), fmt.Sprintf("%d.jpg", messageID)), nil
}
