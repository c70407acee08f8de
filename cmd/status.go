package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cabana/cmd/watch"
)

var (
	statusAPIURL string
	statusWatch  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running bridge",
	Long: `Queries a running bridge's diagnostics API and prints the session state
and discovered entities. With --watch the view refreshes live in a TUI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusWatch {
			return watch.StartTUI(statusAPIURL)
		}

		client := watch.NewClient(statusAPIURL)
		snapshot, err := client.Fetch()
		if err != nil {
			return err
		}

		stats := snapshot.Stats
		fmt.Printf("panel:        %v\n", stats["address"])
		fmt.Printf("connected:    %v\n", stats["connected"])
		fmt.Printf("discovery:    %v\n", stats["discovery_state"])
		fmt.Printf("breaker:      %v (failures: %v)\n", stats["breaker_state"], stats["breaker_failures"])
		fmt.Printf("queue:        %v queued\n", stats["queue_size"])
		fmt.Printf("dead letters: %v\n", stats["dead_letters"])
		fmt.Printf("parse errors: %v\n", stats["parse_errors"])
		fmt.Printf("entities:     %d\n", len(snapshot.Entities))
		for _, entity := range snapshot.Entities {
			name := entity.Name
			if name == "" {
				name = entity.ObjectName
			}
			fmt.Printf("  %-10s %-20s %s\n", entity.ObjectName, name, entity.Status)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusAPIURL, "api", "a", "http://127.0.0.1:8081", "bridge API base URL")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh live in a TUI")
}
