package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orgplan/planner/internal/config"
	"github.com/orgplan/planner/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Write or show the planner configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with every default",
	Long: `Write a config file listing every key with its default. The format follows
the extension: .yaml/.yml writes YAML, anything else TOML.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		path := "planner.toml"
		if len(args) == 1 {
			path = args[0]
		}

		if err := config.WriteDefault(path, force); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintln(os.Stderr, ui.RenderMuted("# from "+used))
		}
		settings := config.Settings(v)
		if remote, ok := settings["remote"].(map[string]any); ok {
			if token, _ := remote["auth_token"].(string); token != "" {
				remote["auth_token"] = "********"
			}
		}

		if jsonOutput {
			printJSON(settings)
			return
		}
		if err := config.Encode(os.Stdout, settings, format); err != nil {
			fatal("%v", err)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().String("format", "toml", "toml|yaml")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
