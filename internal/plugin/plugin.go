// Package plugin defines the capability contracts every solution and
// resource-loader plugin must satisfy, plus descriptor derivation. The
// contracts are static interfaces checked at compile time; a candidate that
// fails metadata validation is rejected at registration, not at call time.
package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// Plugin is the metadata capability set shared by all plugin kinds. The
// getters are pure; identity is derived from manufacturer, name and version.
type Plugin interface {
	Manufacturer() string
	Author() string
	Name() string
	Version() string
	Description() string
	PriceDescription() string
}

// Descriptor is the immutable identity and metadata of a loaded plugin.
type Descriptor struct {
	ID               string
	Manufacturer     string
	Author           string
	Name             string
	Version          string
	Description      string
	PriceDescription string
}

// Info converts a descriptor to its wire form.
func (d Descriptor) Info() types.PluginInfo {
	return types.PluginInfo{
		ID:               d.ID,
		Manufacturer:     d.Manufacturer,
		Author:           d.Author,
		Name:             d.Name,
		Version:          d.Version,
		Description:      d.Description,
		PriceDescription: d.PriceDescription,
	}
}

// ID derives the globally unique plugin identifier.
func ID(p Plugin) string {
	return p.Manufacturer() + "_" + p.Name() + "_" + p.Version()
}

// DataTable derives the plugin's private bookkeeping table name from its id.
// Dots are not valid in SQL identifiers.
func DataTable(pluginID string) string {
	return strings.ReplaceAll(pluginID, ".", "_")
}

// Describe validates a candidate's metadata and builds its descriptor.
// Manufacturer, name and version are mandatory since they compose the id.
func Describe(p Plugin) (Descriptor, error) {
	d := Descriptor{
		Manufacturer:     strings.TrimSpace(p.Manufacturer()),
		Author:           strings.TrimSpace(p.Author()),
		Name:             strings.TrimSpace(p.Name()),
		Version:          strings.TrimSpace(p.Version()),
		Description:      p.Description(),
		PriceDescription: p.PriceDescription(),
	}
	if d.Manufacturer == "" || d.Name == "" || d.Version == "" {
		return Descriptor{}, fmt.Errorf("plugin metadata invalid: manufacturer=%q name=%q version=%q",
			d.Manufacturer, d.Name, d.Version)
	}
	d.ID = d.Manufacturer + "_" + d.Name + "_" + d.Version
	return d, nil
}

// Solution is the contract for training/prediction plugins.
//
// TrainModel must invoke onMessage zero or more times and onFinished exactly
// once as its last observable effect; errors are reported via
// onFinished(false) plus preceding messages. The predict operations must
// invoke onFinished exactly once. The orchestration core guards the plugin
// boundary against panics, but a plugin returning without calling onFinished
// is treated as a failed job.
type Solution interface {
	Plugin

	// CreateModel allocates plugin-side bookkeeping for a new model id and
	// returns the seed row written transactionally with the model row.
	CreateModel(ctx context.Context, st store.Store, id int64) (store.Seed, error)

	// FeedTrainData merges newly supplied labeled entries into the model's
	// accumulated training set; new values overwrite old ones for
	// recurring keys.
	FeedTrainData(ctx context.Context, st store.Store, id int64, newData map[string]string) error

	TrainModel(ctx context.Context, st store.Store, id int64, params map[string]any,
		onMessage func(string), onFinished func(bool))

	PredictWithIDs(ctx context.Context, st store.Store, id int64, resourceIDs []int64,
		onFinished func(types.PredictOutcome))

	PredictWithData(ctx context.Context, st store.Store, id int64, names []string, payloads [][]byte,
		onFinished func(types.PredictOutcome))
}

// ResourceLoader is the contract for resource storage plugins.
type ResourceLoader interface {
	Plugin

	// PutResource stores a payload under the allocator-issued id.
	PutResource(ctx context.Context, st store.Store, id int64, name string, payload []byte, mime string) error

	// GetResource loads the payload for id, or store.ErrNotFound when the
	// plugin no longer has a record or backing file for it.
	GetResource(ctx context.Context, st store.Store, id int64) ([]byte, error)
}

// ResourceGetter is the narrow read facade handed to solution plugins so
// they can resolve resource ids into payloads without knowing which loader
// plugin owns a given resource.
type ResourceGetter interface {
	GetResource(ctx context.Context, id int64) (payload []byte, mime string, err error)
}
