package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bwmarrin/discordgo"
	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gematik/zero-gate/pkg/gate"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and where settings are read from",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Zero Gate v%s (%s, discordgo v%s, Discord API v%s)\n",
			gate.Version, runtime.Version(), discordgo.VERSION, discordgo.APIVersion)

		file, err := filepath.Abs(configFile())
		switch {
		case err != nil:
			fmt.Println("Config file:", err)
		case !exists(file):
			fmt.Printf("Config file: %s (not found, environment only)\n", file)
		default:
			fmt.Println("Config file:", file)
		}
		fmt.Printf("Environment: %s_<KEY>\n", config.EnvPrefix)

		if wd, err := os.Getwd(); err == nil {
			fmt.Println("Working directory:", wd)
		}
	},
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
