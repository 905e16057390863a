package commands

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/boardpin/boardpin/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change persisted settings",
}

var configSetPortCmd = &cobra.Command{
	Use:   "set-port <port>",
	Short: "Persist the coordination port",
	Long: `Persist the coordination port to the settings file.

Every cooperating process must agree on this port: change it while
workers are running and newly started processes will elect a second,
independent coordinator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("parsing port %q: %w", args[0], err)
		}
		if err := config.SavePort(port); err != nil {
			return err
		}
		path, _ := config.SettingsPath()
		color.Green("coordination port set to %d", port)
		fmt.Println("  settings file:", path)
		fmt.Println("  restart running workers for the change to take effect")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		port, err := config.LoadPort()
		if err != nil {
			return err
		}
		path, err := config.SettingsPath()
		if err != nil {
			return err
		}
		fmt.Println("coordination port:", port)
		fmt.Println("settings file:    ", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetPortCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
