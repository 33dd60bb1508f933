package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
	"golang.org/x/crypto/blake2b"

	apperrors "github.com/offtrack/offtrack-core/internal/errors"
)

const maxArtworkBytes = 20 << 20

// ArtworkStore keeps scaled album art keyed by album directory. The full
// size image is also written into the album directory as its marker file.
type ArtworkStore struct {
	dir        string
	size       int
	httpClient *http.Client
}

// NewArtworkStore creates the artwork directory. size is the longest edge of
// the scaled copy; 0 keeps the original dimensions.
func NewArtworkStore(dir string, size int, httpClient *http.Client) (*ArtworkStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artwork directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artwork directory: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ArtworkStore{dir: dir, size: size, httpClient: httpClient}, nil
}

// Path returns where the scaled art for albumDir is kept
func (a *ArtworkStore) Path(albumDir string) string {
	sum := blake2b.Sum256([]byte(filepath.Clean(albumDir)))
	return filepath.Join(a.dir, hex.EncodeToString(sum[:16])+".jpeg")
}

// Has reports whether art for albumDir is cached
func (a *ArtworkStore) Has(albumDir string) bool {
	_, err := os.Stat(a.Path(albumDir))
	return err == nil
}

// Load returns the scaled art for albumDir
func (a *ArtworkStore) Load(albumDir string) ([]byte, error) {
	data, err := os.ReadFile(a.Path(albumDir))
	if os.IsNotExist(err) {
		return nil, apperrors.NewNotFoundError("no artwork for " + albumDir)
	}
	return data, err
}

// Fetch downloads url and stores it for albumDir unless already present
func (a *ArtworkStore) Fetch(ctx context.Context, albumDir, url string) error {
	if a.Has(albumDir) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create artwork request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("failed to download artwork", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewRemoteError(fmt.Sprintf("artwork request failed with status %d", resp.StatusCode), resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return apperrors.NewNetworkError("failed to read artwork data", err)
	}
	return a.Save(albumDir, data)
}

// Save writes data as the album's marker file and a scaled copy into the
// artwork directory
func (a *ArtworkStore) Save(albumDir string, data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return apperrors.NewValidationError("artwork is not a decodable image: " + err.Error())
	}

	if err := os.MkdirAll(albumDir, 0755); err != nil {
		return apperrors.NewFileSystemError("failed to create album directory", err)
	}
	if err := writeAtomic(AlbumArtMarkerPath(albumDir), data); err != nil {
		return err
	}

	scaled, err := a.scale(img)
	if err != nil {
		return err
	}
	return writeAtomic(a.Path(albumDir), scaled)
}

// scale fits img into a size x size box keeping the aspect ratio
func (a *ArtworkStore) scale(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if a.size > 0 && (width > a.size || height > a.size) {
		if width > height {
			img = resize.Resize(uint(a.size), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(a.size), img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode artwork: %w", err)
	}
	return buf.Bytes(), nil
}

// Size returns the bytes used by scaled artwork
func (a *ArtworkStore) Size() (int64, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read artwork directory: %w", err)
	}

	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Clear removes all scaled artwork
func (a *ArtworkStore) Clear() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("failed to read artwork directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, entry.Name())); err != nil {
			return apperrors.NewFileSystemError("failed to remove artwork", err)
		}
	}
	return nil
}

// writeAtomic writes to a temporary file and renames it into place
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.NewFileSystemError("failed to create directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return apperrors.NewFileSystemError("failed to write "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.NewFileSystemError("failed to rename "+filepath.Base(path), err)
	}
	return nil
}
