package cmd

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

var uploadPlugin string

// resourcesCmd represents the resources command
var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Manage uploaded resources",
	Long:  `Commands for uploading files through resource-loader plugins and inspecting stored resources.`,
}

var resourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all resources",
	RunE:  runResourcesList,
}

var resourcesUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files through a resource-loader plugin",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResourcesUpload,
}

var resourcesGetCmd = &cobra.Command{
	Use:   "get <resource-id> <output-file>",
	Short: "Download a resource payload",
	Args:  cobra.ExactArgs(2),
	RunE:  runResourcesGet,
}

func init() {
	rootCmd.AddCommand(resourcesCmd)
	resourcesCmd.AddCommand(resourcesListCmd)
	resourcesCmd.AddCommand(resourcesUploadCmd)
	resourcesCmd.AddCommand(resourcesGetCmd)

	resourcesUploadCmd.Flags().StringVar(&uploadPlugin, "plugin", "", "resource-loader plugin id (required)")
	resourcesUploadCmd.MarkFlagRequired("plugin")
}

func runResourcesList(cmd *cobra.Command, args []string) error {
	var list []types.Resource
	if err := getJSON(ServerURL()+"/get_resource_list", &list); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(list)
	}

	if len(list) == 0 {
		fmt.Println("No resources uploaded")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Plugin", "Mime", "Created")
	for _, r := range list {
		table.Append(
			fmt.Sprintf("%d", r.ID),
			r.PluginID,
			r.Mime,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal resources: %d\n", len(list))
	return nil
}

func runResourcesUpload(cmd *cobra.Command, args []string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("plugin_name", uploadPlugin); err != nil {
		return err
	}
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		part, err := mw.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(ServerURL()+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	fmt.Println(string(body))
	return nil
}

func runResourcesGet(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(ServerURL() + "/get_resource/" + args[0])
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	fmt.Printf("Saved resource %s to %s\n", args[0], args[1])
	return nil
}
