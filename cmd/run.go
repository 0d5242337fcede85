package cmd

import (
	"log/slog"
	"os"

	"github.com/encodeous/reflex/core"
	"github.com/encodeous/reflex/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fabric",
	Long:  `This will load the topology, start all emulated switches, the planner and the heartbeat generator, and run until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if v, _ := cmd.Flags().GetString("heartbeat-frequency"); v != "" {
			var d state.Duration
			if err := d.UnmarshalYAML([]byte(v)); err != nil {
				panic(err)
			}
			cfg.HeartbeatInterval = d
		}
		if v, _ := cmd.Flags().GetString("notification-delay"); v != "" {
			var d state.Duration
			if err := d.UnmarshalYAML([]byte(v)); err != nil {
				panic(err)
			}
			cfg.NotificationDelay = d
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		if err := core.Start(*cfg, level, nil); err != nil {
			panic(err)
		}
	},
}

func loadConfig() *state.CentralCfg {
	var cfg state.CentralCfg
	file, err := os.ReadFile(topologyPath)
	if err != nil {
		panic(err)
	}
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		panic(err)
	}
	state.ExpandCentralConfig(&cfg)
	err = state.CentralConfigValidator(&cfg)
	if err != nil {
		panic(err)
	}
	return &cfg
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().String("heartbeat-frequency", "", "Override the heartbeat interval, e.g. 500ms")
	runCmd.Flags().String("notification-delay", "", "Override the artificial failure notification delay, e.g. 1s")
}
