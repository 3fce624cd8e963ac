// Package remotevision is a solution plugin backed by a hosted
// custom-vision style service. Model creation provisions a remote project,
// training uploads the tagged images and polls the remote iteration, and
// prediction round-trips each image through the service's classify endpoint.
package remotevision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// Config carries the service endpoint and its two API keys. The training key
// authorizes project and iteration management, the prediction key only the
// classify endpoint.
type Config struct {
	Endpoint      string        `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	TrainingKey   string        `json:"training_key" yaml:"training_key" toml:"training_key"`
	PredictionKey string        `json:"prediction_key" yaml:"prediction_key" toml:"prediction_key"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
}

// Classifier delegates training and prediction to the remote service.
type Classifier struct {
	cfg    Config
	res    plugin.ResourceGetter
	client *http.Client
}

// New returns the remote classifier. Resource ids in training data and
// prediction requests are resolved to payloads through res.
func New(cfg Config, res plugin.ResourceGetter) *Classifier {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Classifier{
		cfg:    cfg,
		res:    res,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Classifier) Manufacturer() string { return "edu.hm.hsieh" }
func (c *Classifier) Author() string       { return "hsieh" }
func (c *Classifier) Name() string         { return "remotevisionclassifier" }
func (c *Classifier) Version() string      { return "1.0" }

func (c *Classifier) Description() string {
	return "Image classifier backed by a hosted custom-vision service. Training runs remotely."
}

func (c *Classifier) PriceDescription() string {
	return "Remote API calls are billed per transaction by the service provider. One upload per training image, one call per predicted image."
}

func (c *Classifier) table() string { return plugin.DataTable(plugin.ID(c)) }

// remoteState mirrors the remote artifacts a trained model needs for
// prediction, serialized into extra_info.
type remoteState struct {
	IterationID   string `json:"iteration_id"`
	PublishedName string `json:"published_name"`
}

type projectDoc struct {
	ID string `json:"id"`
}

type iterationDoc struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type classifyDoc struct {
	Predictions []struct {
		TagName     string  `json:"tagName"`
		Probability float64 `json:"probability"`
	} `json:"predictions"`
}

type tagDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Classifier) CreateModel(ctx context.Context, st store.Store, id int64) (store.Seed, error) {
	q := url.Values{"name": {"solutiond-" + uuid.NewString()}}
	var project projectDoc
	if err := c.call(ctx, http.MethodPost, "/training/projects?"+q.Encode(), c.cfg.TrainingKey, nil, "", &project); err != nil {
		return store.Seed{}, fmt.Errorf("creating remote project: %w", err)
	}
	return store.Seed{RemoteID: project.ID}, nil
}

func (c *Classifier) FeedTrainData(ctx context.Context, st store.Store, id int64, newData map[string]string) error {
	rec, err := st.GetPluginRecord(ctx, c.table(), id)
	if err != nil {
		return fmt.Errorf("model can not be found from plugin database: %w", err)
	}
	merged := map[string]string{}
	if len(rec.TrainingData) > 0 {
		if err := json.Unmarshal(rec.TrainingData, &merged); err != nil {
			return err
		}
	}
	for k, v := range newData {
		merged[k] = v
	}
	blob, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return st.PutTrainingData(ctx, c.table(), id, blob)
}

func (c *Classifier) TrainModel(ctx context.Context, st store.Store, id int64, params map[string]any,
	onMessage func(string), onFinished func(bool)) {

	onMessage("Trainer fetching model settings.")
	rec, err := st.GetPluginRecord(ctx, c.table(), id)
	if err != nil {
		onMessage("The trainer can't recognize the given model any more.")
		onFinished(false)
		return
	}

	trainingData := map[string]string{}
	if len(rec.TrainingData) > 0 {
		if err := json.Unmarshal(rec.TrainingData, &trainingData); err != nil {
			onMessage("Training data is corrupt: " + err.Error())
			onFinished(false)
			return
		}
	}
	if len(trainingData) == 0 {
		onMessage("No training data has been fed.")
		onFinished(false)
		return
	}

	project := rec.RemoteID
	onMessage("Uploading training photos to the remote project...")
	tags := map[string]string{}
	uploaded, failed := 0, len(trainingData)
	for key, class := range trainingData {
		resourceID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			onMessage("Skipping entry with non-numeric resource id: " + key)
			continue
		}
		payload, mimeType, err := c.res.GetResource(ctx, resourceID)
		if err != nil {
			onMessage("Failed to load image " + key + ". Error: " + err.Error())
			continue
		}
		tagID, ok := tags[class]
		if !ok {
			tagID, err = c.ensureTag(ctx, project, class)
			if err != nil {
				onMessage("Failed to create tag " + class + ": " + err.Error())
				continue
			}
			tags[class] = tagID
		}
		if err := c.uploadImage(ctx, project, tagID, payload, mimeType); err != nil {
			onMessage("Failed to upload image " + key + ": " + err.Error())
			continue
		}
		uploaded++
		failed--
		onMessage(fmt.Sprintf("(%d/%d/%d)", uploaded, failed, len(trainingData)))
	}
	if uploaded == 0 {
		onMessage("No image could be uploaded, remote training is impossible.")
		onFinished(false)
		return
	}

	onMessage("Requesting remote training iteration...")
	var iteration iterationDoc
	if err := c.call(ctx, http.MethodPost, "/training/projects/"+project+"/train", c.cfg.TrainingKey, nil, "", &iteration); err != nil {
		onMessage("Remote training request failed: " + err.Error())
		onFinished(false)
		return
	}

	for iteration.Status != "Completed" {
		if iteration.Status == "Failed" {
			onMessage("Remote training reported failure.")
			onFinished(false)
			return
		}
		onMessage("Remote training status: " + iteration.Status)
		select {
		case <-ctx.Done():
			onFinished(false)
			return
		case <-time.After(c.cfg.PollInterval):
		}
		if err := c.call(ctx, http.MethodGet, "/training/projects/"+project+"/iterations/"+iteration.ID, c.cfg.TrainingKey, nil, "", &iteration); err != nil {
			onMessage("Polling remote training failed: " + err.Error())
			onFinished(false)
			return
		}
	}

	published := "model-" + strconv.FormatInt(id, 10)
	q := url.Values{"publishName": {published}}
	if err := c.call(ctx, http.MethodPost,
		"/training/projects/"+project+"/iterations/"+iteration.ID+"/publish?"+q.Encode(),
		c.cfg.TrainingKey, nil, "", nil); err != nil {
		onMessage("Publishing trained iteration failed: " + err.Error())
		onFinished(false)
		return
	}

	blob, err := json.Marshal(remoteState{IterationID: iteration.ID, PublishedName: published})
	if err != nil {
		onMessage("Failed to serialize remote model info: " + err.Error())
		onFinished(false)
		return
	}
	if err := st.PutExtraInfo(ctx, c.table(), id, blob); err != nil {
		onMessage("Failed to save remote model info: " + err.Error())
		onFinished(false)
		return
	}
	onFinished(true)
}

func (c *Classifier) PredictWithIDs(ctx context.Context, st store.Store, id int64, resourceIDs []int64,
	onFinished func(types.PredictOutcome)) {

	project, state, err := c.loadRemote(ctx, st, id)
	if err != nil {
		onFinished(types.PredictOutcome{OK: false})
		return
	}
	result := map[string]types.Prediction{}
	for _, resourceID := range resourceIDs {
		payload, _, err := c.res.GetResource(ctx, resourceID)
		if err != nil {
			continue
		}
		if p, ok := c.classify(ctx, project, state.PublishedName, payload); ok {
			result[strconv.FormatInt(resourceID, 10)] = p
		}
	}
	onFinished(types.PredictOutcome{OK: true, Result: result})
}

func (c *Classifier) PredictWithData(ctx context.Context, st store.Store, id int64, names []string, payloads [][]byte,
	onFinished func(types.PredictOutcome)) {

	project, state, err := c.loadRemote(ctx, st, id)
	if err != nil {
		onFinished(types.PredictOutcome{OK: false})
		return
	}
	result := map[string]types.Prediction{}
	for i, payload := range payloads {
		if p, ok := c.classify(ctx, project, state.PublishedName, payload); ok {
			result[names[i]] = p
		}
	}
	onFinished(types.PredictOutcome{OK: true, Result: result})
}

func (c *Classifier) loadRemote(ctx context.Context, st store.Store, id int64) (string, remoteState, error) {
	rec, err := st.GetPluginRecord(ctx, c.table(), id)
	if err != nil {
		return "", remoteState{}, err
	}
	var state remoteState
	if err := json.Unmarshal(rec.ExtraInfo, &state); err != nil {
		return "", remoteState{}, err
	}
	if state.PublishedName == "" {
		return "", remoteState{}, fmt.Errorf("model %d has no published remote iteration", id)
	}
	return rec.RemoteID, state, nil
}

func (c *Classifier) classify(ctx context.Context, project, published string, payload []byte) (types.Prediction, bool) {
	var doc classifyDoc
	path := "/prediction/" + project + "/classify/iterations/" + published + "/image"
	if err := c.call(ctx, http.MethodPost, path, c.cfg.PredictionKey, payload, "application/octet-stream", &doc); err != nil {
		return types.Prediction{}, false
	}
	if len(doc.Predictions) == 0 {
		return types.Prediction{}, false
	}
	// Predictions come sorted by probability, best first.
	best := doc.Predictions[0]
	return types.Prediction{Class: best.TagName, Score: best.Probability}, true
}

func (c *Classifier) ensureTag(ctx context.Context, project, name string) (string, error) {
	q := url.Values{"name": {name}}
	var tag tagDoc
	err := c.call(ctx, http.MethodPost, "/training/projects/"+project+"/tags?"+q.Encode(), c.cfg.TrainingKey, nil, "", &tag)
	if err != nil {
		return "", err
	}
	return tag.ID, nil
}

func (c *Classifier) uploadImage(ctx context.Context, project, tagID string, payload []byte, mimeType string) error {
	q := url.Values{"tagIds": {tagID}}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.call(ctx, http.MethodPost, "/training/projects/"+project+"/images?"+q.Encode(), c.cfg.TrainingKey, payload, mimeType, nil)
}

// call issues one request against the remote service, decoding a JSON
// response into out when out is non-nil. Non-2xx statuses become errors with
// the response body as detail.
func (c *Classifier) call(ctx context.Context, method, path, key string, body []byte, contentType string, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Prediction-Key", key)
	req.Header.Set("Training-Key", key)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote service returned %s: %s", resp.Status, detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ plugin.Solution = (*Classifier)(nil)
