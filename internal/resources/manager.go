// Package resources routes byte payloads to and from resource-loader
// plugins. The orchestration core and the solution plugins only ever see the
// narrow lookup facade; which plugin owns a resource is recorded at upload
// time and never re-decided.
package resources

import (
	"context"
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/registry"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// AllowedExtensions is the upload allow-list.
var AllowedExtensions = []string{"png", "jpg", "jpeg", "bmp"}

// Manager owns the resource table and routes payload I/O to loader plugins.
type Manager struct {
	st  store.Store
	reg *registry.Registry
	log zerolog.Logger
}

// NewManager wires the resource facade. The registry must already contain
// the loader plugins.
func NewManager(st store.Store, reg *registry.Registry, log zerolog.Logger) *Manager {
	return &Manager{st: st, reg: reg, log: log}
}

// ListPlugins returns metadata for every registered loader plugin in
// registration order.
func (m *Manager) ListPlugins() []types.PluginInfo {
	ds := m.reg.Loaders()
	infos := make([]types.PluginInfo, 0, len(ds))
	for _, d := range ds {
		infos = append(infos, d.Info())
	}
	return infos
}

// UploadFile is one incoming file of a multipart upload.
type UploadFile struct {
	Name    string
	Payload []byte
	Mime    string
}

// Upload stores each allowed file through the named loader plugin, minting a
// fresh resource id per file. Per-file failures are reported, not fatal.
func (m *Manager) Upload(ctx context.Context, pluginID string, files []UploadFile) (types.UploadResponse, error) {
	loader, ok := m.reg.Loader(pluginID)
	if !ok {
		return types.UploadResponse{}, pluginRemovedError{pluginID: pluginID}
	}

	resp := types.UploadResponse{
		OK:         []map[int64]string{},
		Failed:     []string{},
		NotAllowed: []string{},
	}
	for _, f := range files {
		if !FileAllowed(f.Name) {
			m.log.Error().Str("file", f.Name).Msg("upload rejected: file type not allowed")
			resp.NotAllowed = append(resp.NotAllowed, f.Name)
			continue
		}
		mimeType := f.Mime
		if len(mimeType) < 3 {
			mimeType = mimeFromExtension(f.Name)
		}

		id, err := m.st.ReserveID(ctx, store.NamespaceResources)
		if err != nil {
			return resp, err
		}
		if err := loader.PutResource(ctx, m.st, id, f.Name, f.Payload, mimeType); err != nil {
			m.log.Error().Err(err).Str("plugin", pluginID).Str("file", f.Name).Msg("failed to store uploaded resource")
			resp.Failed = append(resp.Failed, f.Name)
			continue
		}
		rec := &types.Resource{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			CreatedBy: "webuser0",
			PluginID:  pluginID,
			Mime:      mimeType,
		}
		if err := m.st.InsertResource(ctx, rec); err != nil {
			return resp, err
		}
		resp.OK = append(resp.OK, map[int64]string{id: f.Name})
		m.log.Debug().Int64("id", id).Str("plugin", pluginID).Str("file", f.Name).Msg("resource saved")
	}
	return resp, nil
}

// GetResource resolves an id into its raw payload and mime type, routing to
// whichever loader plugin owns the id.
func (m *Manager) GetResource(ctx context.Context, id int64) ([]byte, string, error) {
	meta, err := m.st.GetResourceMeta(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", resourceNotFoundError{id: id}
	}
	if err != nil {
		return nil, "", err
	}
	loader, ok := m.reg.Loader(meta.PluginID)
	if !ok {
		return nil, "", pluginRemovedError{pluginID: meta.PluginID}
	}
	payload, err := loader.GetResource(ctx, m.st, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", recordMissingError{id: id}
	}
	if err != nil {
		return nil, "", err
	}
	return payload, meta.Mime, nil
}

// GetMetadata returns the resource row for id.
func (m *Manager) GetMetadata(ctx context.Context, id int64) (*types.Resource, error) {
	meta, err := m.st.GetResourceMeta(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, resourceNotFoundError{id: id}
	}
	return meta, err
}

// ListAll returns all resource rows, newest first.
func (m *Manager) ListAll(ctx context.Context) ([]types.Resource, error) {
	return m.st.ListResources(ctx)
}

// FileAllowed reports whether the file name carries an allowed extension.
func FileAllowed(name string) bool {
	name = strings.ToLower(name)
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	ext := name[i+1:]
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func mimeFromExtension(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

var _ plugin.ResourceGetter = (*Manager)(nil)
