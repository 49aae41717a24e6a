package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/studio-b12/gowebdav"
)

// WebDAVConfig configures a WebDAV share.
type WebDAVConfig struct {
	Endpoint string `yaml:"endpoint"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
}

func (c WebDAVConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required),
	)
}

// WebDAV uploads archives to a WebDAV share.
type WebDAV struct {
	client   *gowebdav.Client
	endpoint string
	dir      string
}

// NewWebDAV creates a WebDAV sink.
func NewWebDAV(cfg WebDAVConfig) *WebDAV {
	dir := "/" + strings.Trim(cfg.Path, "/")
	return &WebDAV{
		client:   gowebdav.NewClient(cfg.Endpoint, cfg.User, cfg.Password),
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		dir:      dir,
	}
}

// Save writes the archive under the configured path and returns its URL.
func (w *WebDAV) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if w.dir != "/" {
		if err := w.client.MkdirAll(w.dir, 0o755); err != nil {
			return "", fmt.Errorf("storage: webdav mkdir %s: %w", w.dir, err)
		}
	}
	p := path.Join(w.dir, name)
	if err := w.client.Write(p, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: webdav write %s: %w", p, err)
	}
	return w.endpoint + p, nil
}
