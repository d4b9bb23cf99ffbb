package commands

import (
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List archived threads",
	Long: `Threads lists the conversation threads in the local archive, most
recently active first, with their message counts.

Examples:
  # All threads in the archive
  chatvault threads

  # Only Slack threads
  chatvault threads --platform slack`,
	RunE: runThreads,
}

var threadsPlatform string

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.Flags().StringVar(&threadsPlatform, "platform", "", "Restrict to one platform")
}

func runThreads(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	threads, err := db.ListThreads(cmd.Context(), threadsPlatform)
	if err != nil {
		return err
	}
	return OutputJSON(threads)
}
