package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/commercekit/relay/internal/schema"
	"gopkg.in/yaml.v3"
)

// FileSystemRepository loads schema override definitions from a directory
// of .yaml files. The directory is scanned once at construction; this
// mirrors how the rest of the pipeline treats schemas as boot-time state.
type FileSystemRepository struct {
	dir string
	mem *MemoryRepository
}

// schemaHeader is the minimal front matter needed to key a definition file.
type schemaHeader struct {
	Event   string `yaml:"event"`
	Version int    `yaml:"version"`
}

// NewFileSystemRepository scans dir and returns a repository over its
// definitions. Unreadable or unkeyed files are logged and skipped; a bad
// override must not keep the pipeline from starting.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	r := &FileSystemRepository{dir: dir, mem: NewMemoryRepository()}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		definition, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable schema file", "path", path, "error", err)
			continue
		}

		var header schemaHeader
		if err := yaml.Unmarshal(definition, &header); err != nil || header.Event == "" {
			slog.Warn("Skipping schema file without event header", "path", path, "error", err)
			continue
		}
		if header.Version < 1 {
			header.Version = 1
		}

		s := &schema.Schema{
			Event:       header.Event,
			Version:     header.Version,
			Format:      schema.FormatYaml,
			Definition:  definition,
			Fingerprint: schema.ComputeFingerprint(definition),
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.mem.Create(context.Background(), s); err != nil {
			slog.Warn("Skipping duplicate schema file", "path", path, "event", header.Event, "version", header.Version)
		}
	}

	return r, nil
}

func (r *FileSystemRepository) Create(ctx context.Context, s *schema.Schema) error {
	return r.mem.Create(ctx, s)
}

func (r *FileSystemRepository) Get(ctx context.Context, key schema.Key) (*schema.Schema, error) {
	return r.mem.Get(ctx, key)
}

func (r *FileSystemRepository) Latest(ctx context.Context, event string) (*schema.Schema, error) {
	return r.mem.Latest(ctx, event)
}

func (r *FileSystemRepository) List(ctx context.Context, event string) ([]*schema.Schema, error) {
	return r.mem.List(ctx, event)
}

func (r *FileSystemRepository) Delete(ctx context.Context, key schema.Key) error {
	return r.mem.Delete(ctx, key)
}

// Dir returns the directory this repository was loaded from.
func (r *FileSystemRepository) Dir() string {
	return strings.TrimSuffix(r.dir, string(filepath.Separator))
}
