// Package histogram is a self-contained solution plugin: it classifies
// images by comparing luminance histograms against per-class centroids
// learned from the fed training set. No external service is involved; the
// trained centroids live in the plugin's extra_info blob.
package histogram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

const bins = 32

// Classifier trains and predicts locally on luminance histograms.
type Classifier struct {
	res plugin.ResourceGetter
}

// New returns the local histogram classifier. Predictions by resource id
// resolve payloads through res.
func New(res plugin.ResourceGetter) *Classifier {
	return &Classifier{res: res}
}

func (c *Classifier) Manufacturer() string { return "edu.hm.hsieh" }
func (c *Classifier) Author() string       { return "hsieh" }
func (c *Classifier) Name() string         { return "histogramclassifier" }
func (c *Classifier) Version() string      { return "1.0" }

func (c *Classifier) Description() string {
	return "Local image classifier using per-class luminance-histogram centroids. Trains fully on this host."
}

func (c *Classifier) PriceDescription() string {
	return "Free. Uses local CPU time only."
}

func (c *Classifier) table() string { return plugin.DataTable(plugin.ID(c)) }

// centroidModel is the trained artifact serialized into extra_info.
type centroidModel struct {
	Centroids map[string][]float64 `json:"centroids"`
}

func (c *Classifier) CreateModel(ctx context.Context, st store.Store, id int64) (store.Seed, error) {
	// No remote side; the uuid names the local artifact.
	return store.Seed{RemoteID: "histogramclassifier-1.0-" + uuid.NewString()}, nil
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

	onMessage("Training starting...")
	sums := map[string][]float64{}
	counts := map[string]int{}
	imageOK, imageFailed := 0, len(trainingData)

	for key, class := range trainingData {
		resourceID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			onMessage("Skipping entry with non-numeric resource id: " + key)
			continue
		}
		payload, _, err := c.res.GetResource(ctx, resourceID)
		if err != nil {
			onMessage("Failed to load image " + key + ". Error: " + err.Error())
			continue
		}
		hist, err := featuresOf(payload)
		if err != nil {
			onMessage("Image " + key + " decode failed.")
			continue
		}
		if sums[class] == nil {
			sums[class] = make([]float64, bins)
		}
		for i, v := range hist {
			sums[class][i] += v
		}
		counts[class]++
		imageOK++
		imageFailed--
		onMessage(fmt.Sprintf("(%d/%d/%d)", imageOK, imageFailed, len(trainingData)))
	}

	if imageOK == 0 {
		onMessage("No usable training images.")
		onFinished(false)
		return
	}

	model := centroidModel{Centroids: map[string][]float64{}}
	for class, sum := range sums {
		centroid := make([]float64, bins)
		for i, v := range sum {
			centroid[i] = v / float64(counts[class])
		}
		model.Centroids[class] = centroid
	}
	blob, err := json.Marshal(model)
	if err != nil {
		onMessage("Failed to serialize trained model: " + err.Error())
		onFinished(false)
		return
	}
	if err := st.PutExtraInfo(ctx, c.table(), id, blob); err != nil {
		onMessage("Failed to save trained model: " + err.Error())
		onFinished(false)
		return
	}
	onMessage(fmt.Sprintf("Training model with %d photos...", imageOK))
	onMessage("Training done.")
	onFinished(true)
}

func (c *Classifier) PredictWithIDs(ctx context.Context, st store.Store, id int64, resourceIDs []int64,
	onFinished func(types.PredictOutcome)) {

	model, err := c.loadModel(ctx, st, id)
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
		if p, ok := classify(model, payload); ok {
			result[strconv.FormatInt(resourceID, 10)] = p
		}
	}
	onFinished(types.PredictOutcome{OK: true, Result: result})
}

func (c *Classifier) PredictWithData(ctx context.Context, st store.Store, id int64, names []string, payloads [][]byte,
	onFinished func(types.PredictOutcome)) {

	model, err := c.loadModel(ctx, st, id)
	if err != nil {
		onFinished(types.PredictOutcome{OK: false})
		return
	}
	result := map[string]types.Prediction{}
	for i, payload := range payloads {
		if p, ok := classify(model, payload); ok {
			result[names[i]] = p
		}
	}
	onFinished(types.PredictOutcome{OK: true, Result: result})
}

func (c *Classifier) loadModel(ctx context.Context, st store.Store, id int64) (centroidModel, error) {
	rec, err := st.GetPluginRecord(ctx, c.table(), id)
	if err != nil {
		return centroidModel{}, err
	}
	var model centroidModel
	if err := json.Unmarshal(rec.ExtraInfo, &model); err != nil {
		return centroidModel{}, err
	}
	if len(model.Centroids) == 0 {
		return centroidModel{}, fmt.Errorf("model %d has no trained centroids", id)
	}
	return model, nil
}

func classify(model centroidModel, payload []byte) (types.Prediction, bool) {
	hist, err := featuresOf(payload)
	if err != nil {
		return types.Prediction{}, false
	}
	best, bestScore := "", -1.0
	for class, centroid := range model.Centroids {
		if s := cosine(hist, centroid); s > bestScore {
			best, bestScore = class, s
		}
	}
	if best == "" {
		return types.Prediction{}, false
	}
	return types.Prediction{Class: best, Score: bestScore}, true
}

// featuresOf decodes an image payload and returns its normalized luminance
// histogram.
func featuresOf(payload []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	hist := make([]float64, bins)
	b := img.Bounds()
	total := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels
			luma := (299*float64(r) + 587*float64(g) + 114*float64(bl)) / 1000 / 65535
			bin := int(luma * bins)
			if bin >= bins {
				bin = bins - 1
			}
			hist[bin]++
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("empty image")
	}
	for i := range hist {
		hist[i] /= float64(total)
	}
	return hist, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ plugin.Solution = (*Classifier)(nil)
