package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// pluginsCmd represents the plugins command
var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List loaded plugins",
	Long:  `Commands for inspecting the solution and resource-loader plugins loaded by the service.`,
}

var pluginsSolutionsCmd = &cobra.Command{
	Use:   "solutions",
	Short: "List solution plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginList("/solution_plugins")
	},
}

var pluginsLoadersCmd = &cobra.Command{
	Use:   "loaders",
	Short: "List resource-loader plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginList("/resource_plugins")
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.AddCommand(pluginsSolutionsCmd)
	pluginsCmd.AddCommand(pluginsLoadersCmd)
}

func runPluginList(path string) error {
	var infos []types.PluginInfo
	if err := getJSON(ServerURL()+path, &infos); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(infos)
	}

	if len(infos) == 0 {
		fmt.Println("No plugins loaded")
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Version", "Manufacturer", "Description")
	for _, p := range infos {
		table.Append(p.ID, p.Name, p.Version, p.Manufacturer, p.Description)
	}
	table.Render()
	fmt.Printf("\nTotal plugins: %d\n", len(infos))
	return nil
}
