package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	slackadapter "github.com/chatvault/chatvault/internal/adapter/slack"
	"github.com/chatvault/chatvault/internal/checkpoint"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/importer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Incrementally import new messages",
	Long: `Sync imports everything newer than the last successful sync.

The archive records a per-platform watermark (the newest imported message
timestamp). Sync starts from that watermark, so repeated runs only fetch
what is new. The first sync of a platform imports the full history.

Examples:
  # Pull everything new since the last sync
  chatvault sync slack --workspace myteam`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("please specify a platform: slack")
	},
}

var syncSlackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Sync new messages from a Slack workspace",
	RunE:  runSyncSlack,
}

var syncWorkspace string

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncSlackCmd)

	syncSlackCmd.Flags().StringVar(&syncWorkspace, "workspace", "", "Slack workspace/team name (or set import.slack.workspace in config)")
	syncSlackCmd.Flags().BoolVar(&importIncludeDMs, "include-dms", false, "Include direct messages and group chats")
	syncSlackCmd.Flags().IntVar(&importConcurrency, "concurrency", 0, "Conversations fetched in parallel (default 3)")
}

func runSyncSlack(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	workspace := syncWorkspace
	if workspace == "" {
		workspace = cfg.GetString("import.slack.workspace")
	}
	if workspace == "" {
		return fmt.Errorf("no workspace specified: use --workspace or set import.slack.workspace in ~/.chatvault/config")
	}

	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()

	importCfg := checkpoint.Config{
		Platform:    "slack",
		IncludeDMs:  importIncludeDMs || cfg.GetBool("import.include-dms"),
		Concurrency: importConcurrency,
	}

	watermark, err := db.Watermark(ctx, "slack")
	if err != nil {
		return err
	}
	if watermark.IsZero() {
		fmt.Fprintf(cmd.OutOrStderr(), "No previous sync found, importing full history\n")
	} else {
		fmt.Fprintf(cmd.OutOrStderr(), "Syncing messages newer than %s\n", watermark.Format("2006-01-02 15:04:05"))
		importCfg.Since = &watermark
	}

	fmt.Fprintf(cmd.OutOrStderr(), "Authenticating with Slack workspace %s...\n", workspace)
	client, err := slackadapter.New(workspace, log)
	if err != nil {
		return err
	}

	cp := openCheckpoints(log)
	defer cp.Close()

	session, err := importer.New(importer.Options{
		Client:      client,
		Store:       db,
		Checkpoints: cp,
		Config:      importCfg,
		Observer:    progressPrinter(cmd),
		Logger:      log,
	})
	if err != nil {
		return err
	}

	result, err := session.Run(ctx)
	if err != nil {
		return err
	}

	if result.Newest != nil {
		if err := db.SetWatermark(ctx, "slack", *result.Newest); err != nil {
			return fmt.Errorf("failed to record sync watermark: %w", err)
		}
	}

	// The watermark now owns the resume point; the finished checkpoint has
	// nothing left to offer and would clutter the sessions listing.
	if err := cp.Delete(result.SessionID); err != nil {
		log.Warn("failed to remove sync checkpoint", zap.String("session", result.SessionID), zap.Error(err))
	}

	fmt.Fprintf(cmd.OutOrStderr(), "\nCompleted!\n")
	return OutputJSON(result)
}
