// Package storage delivers finished export archives.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrInvalidName is returned for archive names that are not plain file names.
var ErrInvalidName = errors.New("storage: invalid archive name")

// Sink receives a finished archive and returns where it was stored.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Store is a Sink whose archives can be listed and read back.
type Store interface {
	Sink
	// List returns every archive in the store, newest first.
	List() ([]ArchiveInfo, error)
	// Read returns the bytes of the named archive.
	Read(name string) ([]byte, error)
	// Delete removes the named archive.
	Delete(name string) error
}

// ArchiveInfo describes a stored archive.
type ArchiveInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sink types.
const (
	TypeLocal  = "local"
	TypeS3     = "s3"
	TypeWebDAV = "webdav"
)

// Config selects and configures the archive sink.
type Config struct {
	Type   string       `yaml:"type"`
	Dir    string       `yaml:"dir"`
	S3     S3Config     `yaml:"s3"`
	WebDAV WebDAVConfig `yaml:"webdav"`
}

// Validate implements validation.Validatable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, validation.In(TypeLocal, TypeS3, TypeWebDAV)),
		validation.Field(&c.Dir, validation.When(c.Type == TypeLocal, validation.Required)),
		validation.Field(&c.S3, validation.When(c.Type == TypeS3, validation.By(func(any) error { return c.S3.validate() }))),
		validation.Field(&c.WebDAV, validation.When(c.Type == TypeWebDAV, validation.By(func(any) error { return c.WebDAV.validate() }))),
	)
}

// New builds the sink selected by cfg.Type.
func New(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Type {
	case "", TypeLocal:
		fs, err := NewFS(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case TypeS3:
		s, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeWebDAV:
		return NewWebDAV(cfg.WebDAV), nil
	default:
		return nil, fmt.Errorf("storage: unknown sink type %q", cfg.Type)
	}
}
