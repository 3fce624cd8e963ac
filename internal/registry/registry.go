// Package registry holds the process-wide set of loaded plugins. It is
// populated once at startup and treated as read-only afterwards; there is no
// hot reload.
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
)

type solutionEntry struct {
	desc plugin.Descriptor
	impl plugin.Solution
}

type loaderEntry struct {
	desc plugin.Descriptor
	impl plugin.ResourceLoader
}

// Registry indexes solution and resource-loader plugins by id.
type Registry struct {
	st  store.Store
	log zerolog.Logger

	solutions     map[string]solutionEntry
	solutionOrder []string
	loaders       map[string]loaderEntry
	loaderOrder   []string
}

// New returns an empty registry backed by st. The store is used to provision
// each accepted plugin's private bookkeeping table.
func New(st store.Store, log zerolog.Logger) *Registry {
	return &Registry{
		st:        st,
		log:       log,
		solutions: make(map[string]solutionEntry),
		loaders:   make(map[string]loaderEntry),
	}
}

// RegisterSolution validates and admits a solution plugin. A metadata
// failure, an id collision with an earlier plugin, or a failure to provision
// the plugin's data table rejects the candidate; the process keeps running
// with the plugins that did load.
func (r *Registry) RegisterSolution(ctx context.Context, p plugin.Solution) error {
	desc, err := r.admit(ctx, p)
	if err != nil {
		return err
	}
	r.solutions[desc.ID] = solutionEntry{desc: desc, impl: p}
	r.solutionOrder = append(r.solutionOrder, desc.ID)
	r.log.Info().Str("plugin", desc.ID).Msg("solution plugin loaded")
	return nil
}

// RegisterLoader validates and admits a resource-loader plugin.
func (r *Registry) RegisterLoader(ctx context.Context, p plugin.ResourceLoader) error {
	desc, err := r.admit(ctx, p)
	if err != nil {
		return err
	}
	r.loaders[desc.ID] = loaderEntry{desc: desc, impl: p}
	r.loaderOrder = append(r.loaderOrder, desc.ID)
	r.log.Info().Str("plugin", desc.ID).Msg("resource plugin loaded")
	return nil
}

func (r *Registry) admit(ctx context.Context, p plugin.Plugin) (plugin.Descriptor, error) {
	desc, err := plugin.Describe(p)
	if err != nil {
		r.log.Error().Err(err).Msg("plugin refused to load: metadata invalid")
		return plugin.Descriptor{}, err
	}
	_, dupSolution := r.solutions[desc.ID]
	_, dupLoader := r.loaders[desc.ID]
	if dupSolution || dupLoader {
		err := fmt.Errorf("duplicate plugin id: %s", desc.ID)
		r.log.Error().Err(err).Msg("plugin refused to load")
		return plugin.Descriptor{}, err
	}
	if err := r.st.CreatePluginTable(ctx, plugin.DataTable(desc.ID)); err != nil {
		r.log.Error().Err(err).Str("plugin", desc.ID).Msg("plugin refused to load: datatable create failed")
		return plugin.Descriptor{}, fmt.Errorf("provision datatable for %s: %w", desc.ID, err)
	}
	return desc, nil
}

// Solutions lists solution plugin descriptors in registration order.
func (r *Registry) Solutions() []plugin.Descriptor {
	out := make([]plugin.Descriptor, 0, len(r.solutionOrder))
	for _, id := range r.solutionOrder {
		out = append(out, r.solutions[id].desc)
	}
	return out
}

// Loaders lists resource-loader plugin descriptors in registration order.
func (r *Registry) Loaders() []plugin.Descriptor {
	out := make([]plugin.Descriptor, 0, len(r.loaderOrder))
	for _, id := range r.loaderOrder {
		out = append(out, r.loaders[id].desc)
	}
	return out
}

// Solution looks up a solution plugin by id.
func (r *Registry) Solution(id string) (plugin.Solution, bool) {
	e, ok := r.solutions[id]
	if !ok {
		return nil, false
	}
	return e.impl, true
}

// Loader looks up a resource-loader plugin by id.
func (r *Registry) Loader(id string) (plugin.ResourceLoader, bool) {
	e, ok := r.loaders[id]
	if !ok {
		return nil, false
	}
	return e.impl, true
}
