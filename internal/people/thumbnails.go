package people

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/constants"
)

// ErrInvalidPersonID is returned for IDs that cannot name a thumbnail file.
var ErrInvalidPersonID = errors.New("invalid person id")

// ThumbnailStore keeps one small JPEG per person on disk.
type ThumbnailStore struct {
	dir string
}

// NewThumbnailStore creates the directory if needed.
func NewThumbnailStore(dir string) (*ThumbnailStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	return &ThumbnailStore{dir: dir}, nil
}

func (t *ThumbnailStore) path(personID string) (string, error) {
	if _, err := uuid.Parse(personID); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPersonID, personID)
	}
	return filepath.Join(t.dir, personID+".jpg"), nil
}

// Save resizes the image and writes it atomically, replacing any previous thumbnail.
func (t *ThumbnailStore) Save(personID string, image []byte) error {
	p, err := t.path(personID)
	if err != nil {
		return err
	}
	thumb, err := ai.ResizeImage(image, constants.ThumbnailSize)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(t.dir, ".thumb-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(thumb); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to store thumbnail: %w", err)
	}
	return nil
}

// Load returns the stored JPEG; os.ErrNotExist when there is none.
func (t *ThumbnailStore) Load(personID string) ([]byte, error) {
	p, err := t.path(personID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Remove deletes the thumbnail. A missing file is not an error.
func (t *ThumbnailStore) Remove(personID string) error {
	p, err := t.path(personID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// PlaceholderSVG renders a gray square labelled with the start of the ID,
// served when a person has no thumbnail.
func PlaceholderSVG(personID string) []byte {
	return fmt.Appendf(nil,
		`<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100" viewBox="0 0 100 100">`+
			`<rect width="100" height="100" fill="#9ca3af"/>`+
			`<text x="50" y="55" font-family="sans-serif" font-size="12" fill="#ffffff" text-anchor="middle">%s</text>`+
			`</svg>`, shortID(personID))
}
