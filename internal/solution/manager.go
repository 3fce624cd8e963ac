package solution

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/registry"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// createdBy is recorded on every model row; there is no authentication
// layer, so all writes are attributed to the single web user.
const createdBy = "webuser0"

// Manager coordinates model lifecycles across the plugin registry and the
// store. It holds no per-model state of its own: the persisted state column
// plus the store's compare-and-swap is the single source of truth.
type Manager struct {
	st  store.Store
	reg *registry.Registry
	log zerolog.Logger
}

// NewManager wires the orchestration core.
func NewManager(st store.Store, reg *registry.Registry, log zerolog.Logger) *Manager {
	return &Manager{st: st, reg: reg, log: log}
}

// ListPlugins returns the descriptors of all loaded solution plugins.
func (m *Manager) ListPlugins() []types.PluginInfo {
	descs := m.reg.Solutions()
	out := make([]types.PluginInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Info())
	}
	return out
}

// ListModels returns all models, newest first.
func (m *Manager) ListModels(ctx context.Context) ([]types.Model, error) {
	return m.st.ListModels(ctx)
}

// CreateModel mints a new model id, lets the plugin allocate its bookkeeping,
// and persists the model row together with the plugin-private row in one
// transaction. If the plugin-side allocation fails no model row is committed;
// the reserved id is simply never used again.
func (m *Manager) CreateModel(ctx context.Context, pluginID, nickname, description string) (*types.Model, error) {
	p, ok := m.reg.Solution(pluginID)
	if !ok {
		return nil, pluginNotFoundError{id: pluginID}
	}
	if nickname != "" {
		taken, err := m.st.NicknameExists(ctx, nickname)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, nicknameTakenError{nickname: nickname}
		}
	}

	id, err := m.st.ReserveID(ctx, store.NamespaceModels)
	if err != nil {
		return nil, err
	}
	seed, err := p.CreateModel(ctx, m.st, id)
	if err != nil {
		return nil, bookkeepingError{err: err}
	}

	rec := &types.Model{
		ID:          id,
		Nickname:    nickname,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
		PluginID:    pluginID,
		State:       types.StateCreated,
		Description: description,
	}
	if err := m.st.CreateModel(ctx, rec, plugin.DataTable(pluginID), seed); err != nil {
		return nil, err
	}
	m.log.Info().Int64("model", id).Str("plugin", pluginID).Msg("model created")
	return rec, nil
}

// ResolveModel looks a model up by reference: numeric id first, nickname
// otherwise.
func (m *Manager) ResolveModel(ctx context.Context, ref string) (*types.Model, error) {
	var (
		rec *types.Model
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		rec, err = m.st.GetModelByID(ctx, id)
	} else {
		rec, err = m.st.GetModelByNickname(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, modelNotFoundError{ref: ref}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// solutionFor resolves the plugin owning rec.
func (m *Manager) solutionFor(rec *types.Model) (plugin.Solution, error) {
	p, ok := m.reg.Solution(rec.PluginID)
	if !ok {
		return nil, pluginNotFoundError{id: rec.PluginID}
	}
	return p, nil
}
