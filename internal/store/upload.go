package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmorgan81/sdclient/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes uploads below Dir, which is created on first use.
// An empty Dir means the working directory.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Path(name string) string {
	return filepath.Join(u.Dir, name)
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	path := u.Path(params.Name)
	log := log.FromContextOrDiscard(ctx).WithGroup("file")
	log.Debug("writing", "file", path, "bytes", len(params.Data))

	if u.Dir != "" {
		if err := os.MkdirAll(u.Dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	return os.WriteFile(path, params.Data, 0600)
}
