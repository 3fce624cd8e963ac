package types

import (
	"encoding/json"
	"time"
)

// ModelState is the lifecycle state of a managed model. Values are persisted
// as integers with gaps so intermediate states can be added without migration.
type ModelState int

const (
	StateCreated     ModelState = 0
	StateDataFeeding ModelState = 10
	StateTraining    ModelState = 20
	StateModelUsable ModelState = 30
)

func (s ModelState) String() string {
	switch s {
	case StateCreated:
		return "STATE_MODEL_CREATED"
	case StateDataFeeding:
		return "STATE_DATA_FEEDING"
	case StateTraining:
		return "STATE_TRAINING"
	case StateModelUsable:
		return "STATE_MODEL_USABLE"
	default:
		return "STATE_UNKNOWN"
	}
}

// MarshalJSON renders the state by name; clients never see the raw integer.
func (s ModelState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Model is one lifecycle-managed instance of a solution plugin's artifact.
type Model struct {
	ID          int64      `json:"id"`
	Nickname    string     `json:"nickname,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by"`
	PluginID    string     `json:"plugin_id"`
	State       ModelState `json:"state"`
	Description string     `json:"description,omitempty"`
}

// Resource describes a stored byte payload addressable by id. The payload
// itself lives with the owning resource-loader plugin.
type Resource struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	PluginID  string    `json:"plugin_id"`
	Mime      string    `json:"mime"`
}

// Prediction is a single classification outcome.
type Prediction struct {
	Class string  `json:"CLASS"`
	Score float64 `json:"SCORE"`
}

// PredictOutcome is the terminal result of one prediction job. Result maps
// the input resource id or file name to its classification; inputs the
// plugin could not resolve are simply absent.
type PredictOutcome struct {
	OK     bool                  `json:"ISOK"`
	Result map[string]Prediction `json:"RESULT,omitempty"`
}
