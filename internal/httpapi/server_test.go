package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/resources"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/solution"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// fakeSolutions scripts the solution service behind the handlers.
type fakeSolutions struct {
	createErr  error
	feedErr    error
	trainErr   error
	trainLines []string
	predictErr error
	outcome    types.PredictOutcome

	lastFeed  map[string]string
	lastNames []string
}

func (f *fakeSolutions) ListPlugins() []types.PluginInfo {
	return []types.PluginInfo{{ID: "test_sol_1", Name: "sol"}}
}

func (f *fakeSolutions) ListModels(ctx context.Context) ([]types.Model, error) {
	return []types.Model{{ID: 0, Nickname: "m", State: types.StateCreated}}, nil
}

func (f *fakeSolutions) CreateModel(ctx context.Context, pluginID, nickname, description string) (*types.Model, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &types.Model{ID: 7, Nickname: nickname, PluginID: pluginID}, nil
}

func (f *fakeSolutions) FeedTrainData(ctx context.Context, ref string, data map[string]string) error {
	f.lastFeed = data
	return f.feedErr
}

func (f *fakeSolutions) Train(ctx context.Context, ref string, params map[string]any, w io.Writer, flush func()) error {
	if f.trainErr != nil {
		return f.trainErr
	}
	for _, line := range f.trainLines {
		io.WriteString(w, line+"\n")
		if flush != nil {
			flush()
		}
	}
	return nil
}

func (f *fakeSolutions) PredictWithIDs(ctx context.Context, ref string, resourceIDs []int64) (types.PredictOutcome, error) {
	if f.predictErr != nil {
		return types.PredictOutcome{}, f.predictErr
	}
	return f.outcome, nil
}

func (f *fakeSolutions) PredictWithData(ctx context.Context, ref string, names []string, payloads [][]byte) (types.PredictOutcome, error) {
	f.lastNames = names
	if f.predictErr != nil {
		return types.PredictOutcome{}, f.predictErr
	}
	return f.outcome, nil
}

// fakeResourceSvc scripts the resource service.
type fakeResourceSvc struct {
	uploadResp types.UploadResponse
	uploadErr  error
	getErr     error
	payload    []byte
	mime       string

	lastPlugin string
	lastFiles  []resources.UploadFile
}

func (f *fakeResourceSvc) ListPlugins() []types.PluginInfo {
	return []types.PluginInfo{{ID: "test_ldr_1", Name: "ldr"}}
}

func (f *fakeResourceSvc) Upload(ctx context.Context, pluginID string, files []resources.UploadFile) (types.UploadResponse, error) {
	f.lastPlugin = pluginID
	f.lastFiles = files
	return f.uploadResp, f.uploadErr
}

func (f *fakeResourceSvc) GetResource(ctx context.Context, id int64) ([]byte, string, error) {
	if f.getErr != nil {
		return nil, "", f.getErr
	}
	return f.payload, f.mime, nil
}

func (f *fakeResourceSvc) GetMetadata(ctx context.Context, id int64) (*types.Resource, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &types.Resource{ID: id, PluginID: "test_ldr_1", Mime: f.mime}, nil
}

func (f *fakeResourceSvc) ListAll(ctx context.Context) ([]types.Resource, error) {
	return []types.Resource{{ID: 1}}, nil
}

type alwaysReady struct{}

func (alwaysReady) Ping(ctx context.Context) error { return nil }

type neverReady struct{}

func (neverReady) Ping(ctx context.Context) error { return errors.New("db down") }

func newTestServer(t *testing.T, sol *fakeSolutions, res *fakeResourceSvc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewMux(sol, res, alwaysReady{}))
	t.Cleanup(srv.Close)
	return srv
}

func getBody(t *testing.T, url string, wantStatus int) []byte {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s status = %d, want %d (%s)", url, resp.StatusCode, wantStatus, body)
	}
	return body
}

func postStatus(t *testing.T, url, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestListEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeSolutions{}, &fakeResourceSvc{})

	var plugins []types.PluginInfo
	if err := json.Unmarshal(getBody(t, srv.URL+"/solution_plugins", 200), &plugins); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(plugins) != 1 || plugins[0].ID != "test_sol_1" {
		t.Fatalf("plugins = %+v", plugins)
	}

	var loaders []types.PluginInfo
	json.Unmarshal(getBody(t, srv.URL+"/resource_plugins", 200), &loaders)
	if len(loaders) != 1 || loaders[0].ID != "test_ldr_1" {
		t.Fatalf("loaders = %+v", loaders)
	}

	var models []types.Model
	json.Unmarshal(getBody(t, srv.URL+"/models", 200), &models)
	if len(models) != 1 || models[0].Nickname != "m" {
		t.Fatalf("models = %+v", models)
	}
}

func TestCreateModelHandler(t *testing.T) {
	sol := &fakeSolutions{}
	srv := newTestServer(t, sol, &fakeResourceSvc{})

	resp, body := postStatus(t, srv.URL+"/create_model?solutionID=test_sol_1",
		"application/json", []byte(`{"nickname":"m1"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
	var out types.CreateModelResponse
	if err := json.Unmarshal(body, &out); err != nil || out.ID != 7 {
		t.Fatalf("response = %s, %v", body, err)
	}

	// Nickname is optional: a body without one still creates a model.
	resp, body = postStatus(t, srv.URL+"/create_model?solutionID=test_sol_1",
		"application/json", []byte(`{"description":"no nickname"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("no nickname status = %d (%s)", resp.StatusCode, body)
	}

	// Missing query and body validation.
	resp, _ = postStatus(t, srv.URL+"/create_model", "application/json", []byte(`{"nickname":"m1"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing solutionID status = %d", resp.StatusCode)
	}
	resp, _ = postStatus(t, srv.URL+"/create_model?solutionID=x", "text/plain", []byte(`{}`))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("wrong content type status = %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{solution.ErrModelNotFound("x"), http.StatusNotFound},
		{errors.New("plain storage error"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		sol := &fakeSolutions{feedErr: c.err}
		srv := newTestServer(t, sol, &fakeResourceSvc{})
		resp, body := postStatus(t, srv.URL+"/feed_train_data?modelID=1",
			"application/json", []byte(`{"1":"A"}`))
		if resp.StatusCode != c.status {
			t.Fatalf("err %v: status = %d, want %d (%s)", c.err, resp.StatusCode, c.status, body)
		}
		if c.status == http.StatusInternalServerError && strings.Contains(string(body), "storage") {
			t.Fatalf("internal error leaked detail: %s", body)
		}
	}
}

func TestFeedTrainDataHandler(t *testing.T) {
	sol := &fakeSolutions{}
	srv := newTestServer(t, sol, &fakeResourceSvc{})

	resp, _ := postStatus(t, srv.URL+"/feed_train_data?modelID=1",
		"application/json", []byte(`{"4":"cat","5":"dog"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sol.lastFeed["4"] != "cat" || sol.lastFeed["5"] != "dog" {
		t.Fatalf("fed data = %v", sol.lastFeed)
	}

	resp, _ = postStatus(t, srv.URL+"/feed_train_data?modelID=1", "application/json", []byte(`{}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty data status = %d", resp.StatusCode)
	}
}

func TestTrainModelStreams(t *testing.T) {
	sol := &fakeSolutions{trainLines: []string{"step 1", "Done! Model successfully trained and saved."}}
	srv := newTestServer(t, sol, &fakeResourceSvc{})

	resp, err := http.Post(srv.URL+"/train_model?modelID=1", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("nosniff header = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "step 1\n") {
		t.Fatalf("stream = %q", body)
	}
}

func TestTrainModelRejectedBeforeStream(t *testing.T) {
	sol := &fakeSolutions{trainErr: solution.ErrModelNotFound("9")}
	srv := newTestServer(t, sol, &fakeResourceSvc{})
	resp, body := postStatus(t, srv.URL+"/train_model?modelID=9", "application/json", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
}

func TestPredictWithListHandler(t *testing.T) {
	sol := &fakeSolutions{outcome: types.PredictOutcome{
		OK:     true,
		Result: map[string]types.Prediction{"4": {Class: "cat", Score: 0.9}},
	}}
	srv := newTestServer(t, sol, &fakeResourceSvc{})

	resp, body := postStatus(t, srv.URL+"/predict_w_list?modelID=1",
		"application/json", []byte(`[4]`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, body)
	}
	var out types.PredictOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.OK || out.Result["4"].Class != "cat" {
		t.Fatalf("outcome = %+v", out)
	}

	resp, _ = postStatus(t, srv.URL+"/predict_w_list?modelID=1", "application/json", []byte(`[]`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty list status = %d", resp.StatusCode)
	}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	for name, payload := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write(payload)
	}
	mw.Close()
	return mw.FormDataContentType(), buf.Bytes()
}

func TestUploadHandler(t *testing.T) {
	res := &fakeResourceSvc{uploadResp: types.UploadResponse{
		OK:         []map[int64]string{{0: "cat.png"}},
		Failed:     []string{},
		NotAllowed: []string{},
	}}
	srv := newTestServer(t, &fakeSolutions{}, res)

	ct, body := multipartBody(t,
		map[string]string{"plugin_name": "test_ldr_1"},
		map[string][]byte{"cat.png": []byte("bytes")})
	resp, respBody := postStatus(t, srv.URL+"/upload", ct, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, respBody)
	}
	if res.lastPlugin != "test_ldr_1" || len(res.lastFiles) != 1 || res.lastFiles[0].Name != "cat.png" {
		t.Fatalf("upload passed plugin=%q files=%+v", res.lastPlugin, res.lastFiles)
	}
	if !strings.Contains(string(respBody), `"NOT-ALLOWED"`) {
		t.Fatalf("response body = %s", respBody)
	}

	// plugin_name is mandatory.
	ct, body = multipartBody(t, nil, map[string][]byte{"cat.png": []byte("x")})
	resp, _ = postStatus(t, srv.URL+"/upload", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing plugin_name status = %d", resp.StatusCode)
	}
}

func TestPredictMultipartHandler(t *testing.T) {
	sol := &fakeSolutions{outcome: types.PredictOutcome{OK: true}}
	srv := newTestServer(t, sol, &fakeResourceSvc{})

	ct, body := multipartBody(t, nil, map[string][]byte{"probe.png": []byte("img")})
	resp, respBody := postStatus(t, srv.URL+"/predict?modelID=1", ct, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, respBody)
	}

	ct, body = multipartBody(t, nil, nil)
	resp, _ = postStatus(t, srv.URL+"/predict?modelID=1", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no files status = %d", resp.StatusCode)
	}
}

func TestPredictMultipartFiltersExtensions(t *testing.T) {
	sol := &fakeSolutions{outcome: types.PredictOutcome{OK: true}}
	srv := newTestServer(t, sol, &fakeResourceSvc{})

	// Disallowed files are dropped before the plugin sees them.
	ct, body := multipartBody(t, nil, map[string][]byte{
		"probe.png":  []byte("img"),
		"notes.txt":  []byte("text"),
		"payload.sh": []byte("#!/bin/sh"),
	})
	resp, respBody := postStatus(t, srv.URL+"/predict?modelID=1", ct, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, respBody)
	}
	if len(sol.lastNames) != 1 || sol.lastNames[0] != "probe.png" {
		t.Fatalf("plugin received files %v", sol.lastNames)
	}

	// Nothing left after filtering is a client error.
	sol.lastNames = nil
	ct, body = multipartBody(t, nil, map[string][]byte{"notes.txt": []byte("text")})
	resp, _ = postStatus(t, srv.URL+"/predict?modelID=1", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("all filtered status = %d", resp.StatusCode)
	}
	if sol.lastNames != nil {
		t.Fatalf("plugin was called with %v", sol.lastNames)
	}
}

func TestGetResourceHandlers(t *testing.T) {
	res := &fakeResourceSvc{payload: []byte("img-bytes"), mime: "image/png"}
	srv := newTestServer(t, &fakeSolutions{}, res)

	resp, err := http.Get(srv.URL + "/get_resource/4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(body) != "img-bytes" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}

	var meta types.Resource
	json.Unmarshal(getBody(t, srv.URL+"/get_resource_metadata/4", 200), &meta)
	if meta.ID != 4 || meta.Mime != "image/png" {
		t.Fatalf("metadata = %+v", meta)
	}

	var list []types.Resource
	json.Unmarshal(getBody(t, srv.URL+"/get_resource_list", 200), &list)
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	getBody(t, srv.URL+"/get_resource/notanumber", http.StatusBadRequest)
}

func TestResourceErrorStatuses(t *testing.T) {
	res := &fakeResourceSvc{getErr: resources.ErrResourceNotFound(5)}
	srv := newTestServer(t, &fakeSolutions{}, res)
	getBody(t, srv.URL+"/get_resource/5", http.StatusNotFound)

	res.getErr = resources.ErrPluginRemoved("gone_plugin_1")
	getBody(t, srv.URL+"/get_resource/5", http.StatusGone)

	res.getErr = resources.ErrRecordMissing(5)
	getBody(t, srv.URL+"/get_resource/5", http.StatusGone)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, &fakeSolutions{}, &fakeResourceSvc{})
	getBody(t, srv.URL+"/healthz", 200)
	getBody(t, srv.URL+"/readyz", 200)

	down := httptest.NewServer(NewMux(&fakeSolutions{}, &fakeResourceSvc{}, neverReady{}))
	defer down.Close()
	getBody(t, down.URL+"/readyz", http.StatusServiceUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeSolutions{}, &fakeResourceSvc{})
	// Label a first series so the counter shows up in the scrape.
	getBody(t, srv.URL+"/healthz", 200)
	body := getBody(t, srv.URL+"/metrics", 200)
	if !bytes.Contains(body, []byte("solutiond_http_requests_total")) {
		t.Fatalf("metrics output missing request counter")
	}
}
