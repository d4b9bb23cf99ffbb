package commands

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	Long: `Stats summarizes the local archive: message, account, and thread counts,
the covered date range, and the database size on disk.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return OutputJSON(stats)
}
