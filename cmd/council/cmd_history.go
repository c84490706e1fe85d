package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"council/internal/store"
)

var (
	historyLimit  int
	historyRounds bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent missions from the archive",
	Long: `Prints recent missions from the sqlite archive, newest first, one
compact JSON line per mission. With --rounds each mission's per-round
rows follow its line.`,
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "missions to list")
	historyCmd.Flags().BoolVar(&historyRounds, "rounds", false, "include per-round rows")
	rootCmd.AddCommand(historyCmd)
}

func showHistory(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(store.ArchivePath(cfg.RunsRoot))
	if err != nil {
		return err
	}
	defer archive.Close()

	missions, err := archive.RecentMissions(historyLimit)
	if err != nil {
		return err
	}
	for _, m := range missions {
		line, err := json.Marshal(m)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
		if !historyRounds {
			continue
		}
		rounds, err := archive.Rounds(m.ID)
		if err != nil {
			return err
		}
		for _, r := range rounds {
			line, err := json.Marshal(r)
			if err != nil {
				return err
			}
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}
