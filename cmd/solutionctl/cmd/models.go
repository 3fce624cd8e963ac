package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

var (
	createNickname    string
	createDescription string
	feedDataFile      string
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage models",
	Long:  `Commands for listing and driving models through their lifecycle: create, feed, train, predict.`,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all models",
	RunE:  runModelsList,
}

var modelsCreateCmd = &cobra.Command{
	Use:   "create <solution-plugin-id>",
	Short: "Create a model backed by a solution plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsCreate,
}

var modelsFeedCmd = &cobra.Command{
	Use:   "feed <model-id-or-nickname>",
	Short: "Feed labeled training data from a JSON file",
	Long:  `Reads a JSON object mapping resource ids to class labels and feeds it to the model.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsFeed,
}

var modelsTrainCmd = &cobra.Command{
	Use:   "train <model-id-or-nickname>",
	Short: "Train a model and stream progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsTrain,
}

var modelsPredictCmd = &cobra.Command{
	Use:   "predict <model-id-or-nickname> <resource-id>...",
	Short: "Classify previously uploaded resources",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runModelsPredict,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsCreateCmd)
	modelsCmd.AddCommand(modelsFeedCmd)
	modelsCmd.AddCommand(modelsTrainCmd)
	modelsCmd.AddCommand(modelsPredictCmd)

	modelsCreateCmd.Flags().StringVar(&createNickname, "nickname", "", "unique nickname for the model (required)")
	modelsCreateCmd.Flags().StringVar(&createDescription, "description", "", "free-text description")
	modelsCreateCmd.MarkFlagRequired("nickname")

	modelsFeedCmd.Flags().StringVar(&feedDataFile, "data", "", "path to JSON file with resource-id to label mapping (required)")
	modelsFeedCmd.MarkFlagRequired("data")
}

func runModelsList(cmd *cobra.Command, args []string) error {
	var models []types.Model
	if err := getJSON(ServerURL()+"/models", &models); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(models)
	}

	if len(models) == 0 {
		fmt.Println("No models created")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Nickname", "Plugin", "State", "Created")
	for _, m := range models {
		table.Append(
			fmt.Sprintf("%d", m.ID),
			m.Nickname,
			m.PluginID,
			m.State.String(),
			m.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal models: %d\n", len(models))
	return nil
}

func runModelsCreate(cmd *cobra.Command, args []string) error {
	q := url.Values{"solutionID": {args[0]}}
	req := types.CreateModelRequest{Nickname: createNickname, Description: createDescription}
	var resp types.CreateModelResponse
	if err := postJSON(ServerURL()+"/create_model?"+q.Encode(), req, &resp); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	fmt.Printf("Created model %d (nickname %q)\n", resp.ID, createNickname)
	return nil
}

func runModelsFeed(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(feedDataFile)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("data file must be a JSON object of id to label: %w", err)
	}
	q := url.Values{"modelID": {args[0]}}
	if err := postJSON(ServerURL()+"/feed_train_data?"+q.Encode(), data, nil); err != nil {
		return err
	}
	fmt.Printf("Fed %d entries to model %s\n", len(data), args[0])
	return nil
}

func runModelsTrain(cmd *cobra.Command, args []string) error {
	q := url.Values{"modelID": {args[0]}}
	resp, err := http.Post(ServerURL()+"/train_model?"+q.Encode(), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	// The body is a line stream that ends when the training job finishes.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	return scanner.Err()
}

func runModelsPredict(cmd *cobra.Command, args []string) error {
	ids := make([]json.Number, 0, len(args)-1)
	for _, a := range args[1:] {
		ids = append(ids, json.Number(a))
	}
	q := url.Values{"modelID": {args[0]}}
	var out types.PredictOutcome
	if err := postJSON(ServerURL()+"/predict_w_list?"+q.Encode(), ids, &out); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(out)
	}

	if !out.OK {
		fmt.Println("Prediction failed")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Resource", "Class", "Score")
	for id, p := range out.Result {
		table.Append(id, p.Class, fmt.Sprintf("%.4f", p.Score))
	}
	table.Render()
	return nil
}
