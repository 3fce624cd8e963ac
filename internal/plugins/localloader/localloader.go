// Package localloader is a basic resource-loader plugin that stores
// payloads directly on the local filesystem and records the file name in its
// bookkeeping table.
package localloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
)

// Loader persists resources as flat files under a data directory.
type Loader struct {
	dir string
}

// New returns a loader rooted at dir; the directory is created on demand.
func New(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Manufacturer() string { return "edu.hm.hsieh" }
func (l *Loader) Author() string       { return "hsieh" }
func (l *Loader) Name() string         { return "mylocalphotoloader" }
func (l *Loader) Version() string      { return "1.0" }

func (l *Loader) Description() string {
	return "Basic photo loader. Saves and loads payloads directly from the local file-system."
}

func (l *Loader) PriceDescription() string {
	return "1 database operation per read/write. Price of storage depends on the size of the payload."
}

func (l *Loader) table() string { return plugin.DataTable(plugin.ID(l)) }

func (l *Loader) PutResource(ctx context.Context, st store.Store, id int64, name string, payload []byte, mime string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	filename := fmt.Sprintf("%d%s", id, safeExt(name))
	if err := os.WriteFile(filepath.Join(l.dir, filename), payload, 0o644); err != nil {
		return err
	}
	return st.InsertPluginRecord(ctx, l.table(), &store.PluginRecord{ID: id, RemoteID: filename})
}

func (l *Loader) GetResource(ctx context.Context, st store.Store, id int64) ([]byte, error) {
	rec, err := st.GetPluginRecord(ctx, l.table(), id)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(filepath.Join(l.dir, rec.RemoteID))
	if errors.Is(err, os.ErrNotExist) {
		// Row exists but the file is gone from the filesystem.
		return nil, store.ErrNotFound
	}
	return payload, err
}

// safeExt keeps the original extension when it is a plain one, so files on
// disk stay recognizable. Anything odd is dropped; the id alone is the name.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 5 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

var _ plugin.ResourceLoader = (*Loader)(nil)
