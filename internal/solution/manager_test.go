package solution

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/registry"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// fakeSolution is a scriptable solution plugin for lifecycle tests.
type fakeSolution struct {
	name string

	createErr error
	feedErr   error
	train     func(onMessage func(string), onFinished func(bool))
	predict   func(onFinished func(types.PredictOutcome))

	fedData map[string]string
}

func (f *fakeSolution) Manufacturer() string     { return "test" }
func (f *fakeSolution) Author() string           { return "tester" }
func (f *fakeSolution) Name() string             { return f.name }
func (f *fakeSolution) Version() string          { return "1" }
func (f *fakeSolution) Description() string      { return "scriptable fake" }
func (f *fakeSolution) PriceDescription() string { return "free" }

func (f *fakeSolution) CreateModel(ctx context.Context, st store.Store, id int64) (store.Seed, error) {
	if f.createErr != nil {
		return store.Seed{}, f.createErr
	}
	return store.Seed{RemoteID: "fake-" + strconv.FormatInt(id, 10)}, nil
}

func (f *fakeSolution) FeedTrainData(ctx context.Context, st store.Store, id int64, newData map[string]string) error {
	if f.feedErr != nil {
		return f.feedErr
	}
	if f.fedData == nil {
		f.fedData = map[string]string{}
	}
	for k, v := range newData {
		f.fedData[k] = v
	}
	return nil
}

func (f *fakeSolution) TrainModel(ctx context.Context, st store.Store, id int64, params map[string]any,
	onMessage func(string), onFinished func(bool)) {
	if f.train != nil {
		f.train(onMessage, onFinished)
		return
	}
	onMessage("working")
	onFinished(true)
}

func (f *fakeSolution) PredictWithIDs(ctx context.Context, st store.Store, id int64, resourceIDs []int64,
	onFinished func(types.PredictOutcome)) {
	if f.predict != nil {
		f.predict(onFinished)
		return
	}
	result := map[string]types.Prediction{}
	for _, rid := range resourceIDs {
		result[strconv.FormatInt(rid, 10)] = types.Prediction{Class: "cat", Score: 0.9}
	}
	onFinished(types.PredictOutcome{OK: true, Result: result})
}

func (f *fakeSolution) PredictWithData(ctx context.Context, st store.Store, id int64, names []string, payloads [][]byte,
	onFinished func(types.PredictOutcome)) {
	if f.predict != nil {
		f.predict(onFinished)
		return
	}
	result := map[string]types.Prediction{}
	for _, n := range names {
		result[n] = types.Prediction{Class: "dog", Score: 0.8}
	}
	onFinished(types.PredictOutcome{OK: true, Result: result})
}

func newTestManager(t *testing.T, plugins ...*fakeSolution) (*Manager, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sol.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	for _, ns := range []string{store.NamespaceModels, store.NamespaceResources} {
		if err := st.EnsureNamespace(ctx, ns); err != nil {
			t.Fatalf("ensure namespace: %v", err)
		}
	}
	reg := registry.New(st, zerolog.Nop())
	for _, p := range plugins {
		if err := reg.RegisterSolution(ctx, p); err != nil {
			t.Fatalf("register %s: %v", p.name, err)
		}
	}
	return NewManager(st, reg, zerolog.Nop()), st
}

func mustCreate(t *testing.T, m *Manager, pluginID, nickname string) *types.Model {
	t.Helper()
	rec, err := m.CreateModel(context.Background(), pluginID, nickname, "")
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	return rec
}

func mustState(t *testing.T, st store.Store, id int64, want types.ModelState) {
	t.Helper()
	rec, err := st.GetModelByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if rec.State != want {
		t.Fatalf("state = %v, want %v", rec.State, want)
	}
}

func TestCreateModel(t *testing.T) {
	p := &fakeSolution{name: "p"}
	m, st := newTestManager(t, p)

	rec := mustCreate(t, m, "test_p_1", "alpha")
	if rec.ID != 0 || rec.State != types.StateCreated || rec.CreatedBy != "webuser0" {
		t.Fatalf("unexpected model: %+v", rec)
	}
	mustState(t, st, rec.ID, types.StateCreated)

	// The plugin's seed row was written in the same transaction.
	seed, err := st.GetPluginRecord(context.Background(), "test_p_1", rec.ID)
	if err != nil {
		t.Fatalf("plugin record: %v", err)
	}
	if seed.RemoteID != "fake-0" {
		t.Fatalf("seed remote id = %q", seed.RemoteID)
	}
}

func TestCreateModelWithoutNickname(t *testing.T) {
	m, st := newTestManager(t, &fakeSolution{name: "p"})

	// Nickname is optional, and more than one model may omit it.
	first := mustCreate(t, m, "test_p_1", "")
	second := mustCreate(t, m, "test_p_1", "")
	if first.ID == second.ID {
		t.Fatalf("duplicate ids: %d", first.ID)
	}
	rec, err := st.GetModelByID(context.Background(), second.ID)
	if err != nil || rec.Nickname != "" {
		t.Fatalf("model = %+v, err = %v", rec, err)
	}
}

func TestCreateModelUnknownPlugin(t *testing.T) {
	m, _ := newTestManager(t, &fakeSolution{name: "p"})
	_, err := m.CreateModel(context.Background(), "nope_nope_1", "x", "")
	if !IsPluginNotFound(err) {
		t.Fatalf("err = %v, want plugin not found", err)
	}
}

func TestCreateModelNicknameTaken(t *testing.T) {
	m, _ := newTestManager(t, &fakeSolution{name: "p"})
	mustCreate(t, m, "test_p_1", "taken")
	_, err := m.CreateModel(context.Background(), "test_p_1", "taken", "")
	if !IsNicknameTaken(err) {
		t.Fatalf("err = %v, want nickname taken", err)
	}
}

func TestCreateModelBookkeepingFailure(t *testing.T) {
	p := &fakeSolution{name: "p", createErr: errors.New("remote down")}
	m, st := newTestManager(t, p)
	_, err := m.CreateModel(context.Background(), "test_p_1", "x", "")
	if !IsBookkeepingFailed(err) {
		t.Fatalf("err = %v, want bookkeeping failure", err)
	}
	// No model row leaked.
	if _, err := st.GetModelByID(context.Background(), 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("model row exists after failed create")
	}
	// The burned id is not reused.
	p.createErr = nil
	rec := mustCreate(t, m, "test_p_1", "y")
	if rec.ID != 1 {
		t.Fatalf("id after failed create = %d, want 1", rec.ID)
	}
}

func TestResolveModel(t *testing.T) {
	m, _ := newTestManager(t, &fakeSolution{name: "p"})
	rec := mustCreate(t, m, "test_p_1", "nick")

	byID, err := m.ResolveModel(context.Background(), strconv.FormatInt(rec.ID, 10))
	if err != nil || byID.ID != rec.ID {
		t.Fatalf("resolve by id: %+v, %v", byID, err)
	}
	byNick, err := m.ResolveModel(context.Background(), "nick")
	if err != nil || byNick.ID != rec.ID {
		t.Fatalf("resolve by nickname: %+v, %v", byNick, err)
	}
	if _, err := m.ResolveModel(context.Background(), "ghost"); !IsModelNotFound(err) {
		t.Fatalf("err = %v, want model not found", err)
	}
}

func TestFeedTrainData(t *testing.T) {
	p := &fakeSolution{name: "p"}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "feeder")

	if err := m.FeedTrainData(context.Background(), "feeder", map[string]string{"1": "A", "2": "B"}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	mustState(t, st, rec.ID, types.StateDataFeeding)

	// Recurring key takes the newer value.
	if err := m.FeedTrainData(context.Background(), "feeder", map[string]string{"2": "C", "3": "D"}); err != nil {
		t.Fatalf("second feed: %v", err)
	}
	want := map[string]string{"1": "A", "2": "C", "3": "D"}
	for k, v := range want {
		if p.fedData[k] != v {
			t.Fatalf("fedData = %v, want %v", p.fedData, want)
		}
	}
}

func TestFeedTrainDataIllegalState(t *testing.T) {
	m, st := newTestManager(t, &fakeSolution{name: "p"})
	rec := mustCreate(t, m, "test_p_1", "busy")
	if _, err := st.CompareAndSwapState(context.Background(), rec.ID, types.StateCreated, types.StateTraining); err != nil {
		t.Fatalf("swap: %v", err)
	}

	err := m.FeedTrainData(context.Background(), "busy", map[string]string{"1": "A"})
	if !IsStateNotAllowed(err) {
		t.Fatalf("err = %v, want state not allowed", err)
	}
	// Rejection leaves the state untouched.
	mustState(t, st, rec.ID, types.StateTraining)
}

func TestFeedTrainDataPluginError(t *testing.T) {
	p := &fakeSolution{name: "p", feedErr: errors.New("record gone")}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "broken")

	err := m.FeedTrainData(context.Background(), "broken", map[string]string{"1": "A"})
	if !IsBookkeepingFailed(err) {
		t.Fatalf("err = %v, want bookkeeping failure", err)
	}
	// Plugin failure means no state advance either.
	mustState(t, st, rec.ID, types.StateCreated)
}

func trainToStream(t *testing.T, m *Manager, ref string) []string {
	t.Helper()
	var buf bytes.Buffer
	if err := m.Train(context.Background(), ref, nil, &buf, nil); err != nil {
		t.Fatalf("train: %v", err)
	}
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestTrainSuccess(t *testing.T) {
	p := &fakeSolution{name: "p"}
	p.train = func(onMessage func(string), onFinished func(bool)) {
		onMessage("step 1")
		onMessage("step 2")
		onFinished(true)
	}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "trainee")
	if err := m.FeedTrainData(context.Background(), "trainee", map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	lines := trainToStream(t, m, "trainee")
	if len(lines) != 3 || lines[0] != "step 1" || lines[1] != "step 2" {
		t.Fatalf("stream = %v", lines)
	}
	if lines[len(lines)-1] != trainDoneLine {
		t.Fatalf("terminal line = %q", lines[len(lines)-1])
	}
	mustState(t, st, rec.ID, types.StateModelUsable)
}

func TestTrainFailure(t *testing.T) {
	p := &fakeSolution{name: "p"}
	p.train = func(onMessage func(string), onFinished func(bool)) {
		onMessage("something went wrong")
		onFinished(false)
	}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "failer")
	if err := m.FeedTrainData(context.Background(), "failer", map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	lines := trainToStream(t, m, "failer")
	if lines[len(lines)-1] != trainFailedLine {
		t.Fatalf("terminal line = %q", lines[len(lines)-1])
	}
	// Failure returns the model to DATA_FEEDING so it can be retrained.
	mustState(t, st, rec.ID, types.StateDataFeeding)
}

func TestTrainPluginPanic(t *testing.T) {
	p := &fakeSolution{name: "p"}
	p.train = func(onMessage func(string), onFinished func(bool)) {
		panic("plugin bug")
	}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "panicky")
	if err := m.FeedTrainData(context.Background(), "panicky", map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	lines := trainToStream(t, m, "panicky")
	if lines[len(lines)-1] != trainFailedLine {
		t.Fatalf("terminal line = %q", lines[len(lines)-1])
	}
	mustState(t, st, rec.ID, types.StateDataFeeding)
}

func TestTrainSilentPluginReturn(t *testing.T) {
	p := &fakeSolution{name: "p"}
	p.train = func(onMessage func(string), onFinished func(bool)) {
		onMessage("forgot to call finished")
	}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "silent")
	if err := m.FeedTrainData(context.Background(), "silent", map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	lines := trainToStream(t, m, "silent")
	if lines[len(lines)-1] != trainFailedLine {
		t.Fatalf("terminal line = %q", lines[len(lines)-1])
	}
	mustState(t, st, rec.ID, types.StateDataFeeding)
}

func TestTrainDoubleFinishIsHarmless(t *testing.T) {
	p := &fakeSolution{name: "p"}
	p.train = func(onMessage func(string), onFinished func(bool)) {
		onFinished(true)
		onFinished(false)
	}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "double")
	if err := m.FeedTrainData(context.Background(), "double", map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	lines := trainToStream(t, m, "double")
	done := 0
	for _, l := range lines {
		if l == trainDoneLine || l == trainFailedLine {
			done++
		}
	}
	if done != 1 {
		t.Fatalf("stream has %d terminal lines: %v", done, lines)
	}
	// First delivery wins.
	mustState(t, st, rec.ID, types.StateModelUsable)
}

func TestTrainIllegalState(t *testing.T) {
	m, st := newTestManager(t, &fakeSolution{name: "p"})
	rec := mustCreate(t, m, "test_p_1", "fresh")

	// CREATED: nothing fed yet.
	var buf bytes.Buffer
	err := m.Train(context.Background(), "fresh", nil, &buf, nil)
	if !IsStateNotAllowed(err) {
		t.Fatalf("err = %v, want state not allowed", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected train wrote to stream: %q", buf.String())
	}
	mustState(t, st, rec.ID, types.StateCreated)

	// TRAINING: a second train is rejected.
	if _, err := st.CompareAndSwapState(context.Background(), rec.ID, types.StateCreated, types.StateTraining); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := m.Train(context.Background(), "fresh", nil, &buf, nil); !IsStateNotAllowed(err) {
		t.Fatalf("err = %v, want state not allowed", err)
	}
}

func TestPredictWithIDs(t *testing.T) {
	p := &fakeSolution{name: "p"}
	m, st := newTestManager(t, p)
	rec := mustCreate(t, m, "test_p_1", "oracle")
	if err := m.FeedTrainData(context.Background(), "oracle", map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	trainToStream(t, m, "oracle")
	mustState(t, st, rec.ID, types.StateModelUsable)

	out, err := m.PredictWithIDs(context.Background(), "oracle", []int64{4, 7})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !out.OK || len(out.Result) != 2 || out.Result["4"].Class != "cat" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestPredictRequiresUsableModel(t *testing.T) {
	m, _ := newTestManager(t, &fakeSolution{name: "p"})
	mustCreate(t, m, "test_p_1", "untrained")

	if _, err := m.PredictWithIDs(context.Background(), "untrained", []int64{1}); !IsStateNotAllowed(err) {
		t.Fatalf("err = %v, want state not allowed", err)
	}
	if _, err := m.PredictWithData(context.Background(), "untrained", []string{"x"}, [][]byte{{1}}); !IsStateNotAllowed(err) {
		t.Fatalf("err = %v, want state not allowed", err)
	}
}

func TestPredictPluginPanic(t *testing.T) {
	p := &fakeSolution{name: "p"}
	p.predict = func(onFinished func(types.PredictOutcome)) {
		panic("predict bug")
	}
	m, _ := newTestManager(t, p)
	if err := m.FeedTrainData(context.Background(), mustCreateRef(t, m), map[string]string{"1": "A"}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	trainToStream(t, m, "0")

	out, err := m.PredictWithIDs(context.Background(), "0", []int64{1})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if out.OK {
		t.Fatalf("panicking plugin reported success")
	}
}

func mustCreateRef(t *testing.T, m *Manager) string {
	t.Helper()
	rec := mustCreate(t, m, "test_p_1", "")
	return strconv.FormatInt(rec.ID, 10)
}

func TestListPluginsAndModels(t *testing.T) {
	m, _ := newTestManager(t, &fakeSolution{name: "a"}, &fakeSolution{name: "b"})
	infos := m.ListPlugins()
	if len(infos) != 2 || infos[0].ID != "test_a_1" || infos[1].ID != "test_b_1" {
		t.Fatalf("plugins = %+v", infos)
	}

	mustCreate(t, m, "test_a_1", "one")
	mustCreate(t, m, "test_b_1", "two")
	models, err := m.ListModels(context.Background())
	if err != nil || len(models) != 2 {
		t.Fatalf("models = %v, %v", models, err)
	}
	// Newest first.
	if models[0].Nickname != "two" {
		t.Fatalf("order = %v", models)
	}
}
