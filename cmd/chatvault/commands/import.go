package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/chatvault/internal/adapter"
	slackadapter "github.com/chatvault/chatvault/internal/adapter/slack"
	"github.com/chatvault/chatvault/internal/checkpoint"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/importer"
	"github.com/chatvault/chatvault/internal/utils"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import conversation history from a platform",
	Long: `Import fetches conversation history from a platform and stores it in the
local archive.

Imports are checkpointed as they run. When an import is interrupted, resume
it with --resume-latest (or --resume <session-id>) and it continues from
where it stopped instead of re-fetching finished conversations.

Examples:
  # Import the last 30 days of a workspace, including DMs
  chatvault import slack --workspace myteam --since 30d --include-dms

  # Preview what a full import would fetch
  chatvault import slack --workspace myteam --dry-run

  # Continue an interrupted import
  chatvault import slack --workspace myteam --resume-latest`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("please specify a platform: slack")
	},
}

var importSlackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Import messages from a Slack workspace",
	Long: `Import messages from a Slack workspace.

Authentication reuses the cookies of the local Slack desktop app, so you
must be logged into the workspace there. Channels are fetched newest-first
in concurrent batches; Slack rate limits are retried automatically.

Examples:
  # Import all channels you are a member of
  chatvault import slack --workspace myteam

  # Import only two channels, including archived threads
  chatvault import slack --workspace myteam --type channel --include-archived

  # Import a bounded date range
  chatvault import slack --workspace myteam --since 2024-01-01 --until 2024-02-01`,
	RunE: runImportSlack,
}

var (
	importWorkspace       string
	importSince           string
	importUntil           string
	importTypes           []string
	importContainers      []string
	importConcurrency     int
	importPageSize        int
	importMaxPerChannel   int
	importBatchDelay      int
	importIncludeArchived bool
	importIncludeDMs      bool
	importDryRun          bool
	importResume          string
	importResumeLatest    bool
)

// dryRunEstimatePerUnit is the per-conversation message estimate shown by
// --dry-run. Platforms do not expose counts without fetching, so the figure
// is labelled as an estimate in the output.
const dryRunEstimatePerUnit = 500

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importSlackCmd)

	importSlackCmd.Flags().StringVar(&importWorkspace, "workspace", "", "Slack workspace/team name (or set import.slack.workspace in config)")
	importSlackCmd.Flags().StringVar(&importSince, "since", "", "Oldest message date (YYYY-MM-DD or relative like 30d)")
	importSlackCmd.Flags().StringVar(&importUntil, "until", "", "Newest message date (YYYY-MM-DD, inclusive)")
	importSlackCmd.Flags().StringSliceVar(&importTypes, "type", nil, "Conversation types to import (channel, thread, archived_thread, dm, group)")
	importSlackCmd.Flags().StringSliceVar(&importContainers, "container", nil, "Restrict to named containers")
	importSlackCmd.Flags().IntVar(&importConcurrency, "concurrency", 0, "Conversations fetched in parallel (default 3)")
	importSlackCmd.Flags().IntVar(&importPageSize, "page-size", 0, "Messages per history page (default 100)")
	importSlackCmd.Flags().IntVar(&importMaxPerChannel, "max-per-channel", 0, "Stop each conversation after this many messages (0 = unlimited)")
	importSlackCmd.Flags().IntVar(&importBatchDelay, "batch-delay", 0, "Milliseconds to pause between batches (default 200)")
	importSlackCmd.Flags().BoolVar(&importIncludeArchived, "include-archived", false, "Include archived channels and threads")
	importSlackCmd.Flags().BoolVar(&importIncludeDMs, "include-dms", false, "Include direct messages and group chats")
	importSlackCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "List the work an import would do without fetching messages")
	importSlackCmd.Flags().StringVar(&importResume, "resume", "", "Resume the named session")
	importSlackCmd.Flags().BoolVar(&importResumeLatest, "resume-latest", false, "Resume the most recent incomplete session")
}

func runImportSlack(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	workspace := importWorkspace
	if workspace == "" {
		workspace = cfg.GetString("import.slack.workspace")
	}
	if workspace == "" {
		return fmt.Errorf("no workspace specified: use --workspace or set import.slack.workspace in ~/.chatvault/config")
	}

	importCfg, err := buildImportConfig(cfg)
	if err != nil {
		return err
	}

	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	fmt.Fprintf(cmd.OutOrStderr(), "Authenticating with Slack workspace %s...\n", workspace)
	client, err := slackadapter.New(workspace, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if importDryRun {
		return runDryRun(ctx, cmd, client, importCfg, log)
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	cp := openCheckpoints(log)
	defer cp.Close()

	session, err := importer.New(importer.Options{
		Client:       client,
		Store:        db,
		Checkpoints:  cp,
		Config:       importCfg,
		Resume:       importResume,
		ResumeLatest: importResumeLatest,
		Observer:     progressPrinter(cmd),
		Logger:       log,
	})
	if err != nil {
		return err
	}

	result, err := session.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStderr(), "\nCompleted!\n")
	return OutputJSON(result)
}

// buildImportConfig assembles the session config from flags, falling back to
// ~/.chatvault/config for anything not given on the command line.
func buildImportConfig(cfg *config.Config) (checkpoint.Config, error) {
	out := checkpoint.Config{
		Platform:        "slack",
		Containers:      importContainers,
		Types:           importTypes,
		IncludeArchived: importIncludeArchived || cfg.GetBool("import.include-archived"),
		IncludeDMs:      importIncludeDMs || cfg.GetBool("import.include-dms"),
		Concurrency:     importConcurrency,
		PageSize:        importPageSize,
		MaxPerChannel:   importMaxPerChannel,
		BatchDelayMS:    importBatchDelay,
	}
	if out.Concurrency == 0 {
		out.Concurrency = cfg.GetIntWithFallback("import.concurrency", 0)
	}
	if out.PageSize == 0 {
		out.PageSize = cfg.GetIntWithFallback("import.page-size", 0)
	}
	if len(out.Types) == 0 {
		out.Types = cfg.GetStringSlice("import.types")
	}

	for _, t := range out.Types {
		switch t {
		case "channel", "thread", "archived_thread", "dm", "group":
		default:
			return checkpoint.Config{}, fmt.Errorf("unknown conversation type %q", t)
		}
	}

	if importSince != "" {
		since, err := utils.ParseSinceDate(importSince)
		if err != nil {
			return checkpoint.Config{}, fmt.Errorf("invalid --since value: %w", err)
		}
		out.Since = &since
	}
	if importUntil != "" {
		until, err := utils.ParseUntilDate(importUntil)
		if err != nil {
			return checkpoint.Config{}, fmt.Errorf("invalid --until value: %w", err)
		}
		out.Until = &until
	}
	if out.Since != nil && out.Until != nil && out.Until.Before(*out.Since) {
		return checkpoint.Config{}, fmt.Errorf("--until %s is before --since %s", importUntil, importSince)
	}
	return out, nil
}

// dryRunUnit is one row of --dry-run output.
type dryRunUnit struct {
	Thread            string `json:"thread"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	EstimatedMessages int    `json:"estimated_messages"`
}

// runDryRun performs discovery only and reports the work list. The throwaway
// checkpoint lives in a temp directory so no resumable session is left
// behind.
func runDryRun(ctx context.Context, cmd *cobra.Command, client adapter.Client, importCfg checkpoint.Config, log *zap.Logger) error {
	tmp, err := os.MkdirTemp("", "chatvault-dryrun-")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	cp := checkpoint.NewStore(filepath.Join(tmp, "checkpoints"), log)
	if _, err := cp.Create(importCfg); err != nil {
		return fmt.Errorf("failed to stage dry run: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStderr(), "Discovering conversations (dry run)...\n")
	units, err := importer.Discover(ctx, client, cp, log)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	rows := make([]dryRunUnit, 0, len(units))
	for _, u := range units {
		rows = append(rows, dryRunUnit{
			Thread:            u.Key,
			Name:              u.Conversation.Name,
			Type:              u.Conversation.Type,
			EstimatedMessages: dryRunEstimatePerUnit,
		})
	}

	fmt.Fprintf(cmd.OutOrStderr(), "Would import %d conversations (estimates, nothing fetched)\n", len(rows))
	return OutputJSON(map[string]interface{}{
		"dry_run":                  true,
		"conversations":            rows,
		"total_conversations":      len(rows),
		"estimated_total_messages": len(rows) * dryRunEstimatePerUnit,
	})
}

// progressPrinter returns an observer that writes one status line per
// update. Output goes to stderr so piped JSON stays clean.
func progressPrinter(cmd *cobra.Command) func(importer.Progress) {
	var lastLine string
	return func(p importer.Progress) {
		line := fmt.Sprintf("[%s] %d/%d conversations, %d messages",
			p.Phase, p.CompletedUnits, p.TotalUnits, p.Messages)
		if p.Errors > 0 {
			line += fmt.Sprintf(", %d errors", p.Errors)
		}
		if len(p.InFlight) > 0 {
			line += fmt.Sprintf(" (fetching: %s)", strings.Join(p.InFlight, ", "))
		}
		if line == lastLine {
			return
		}
		lastLine = line
		fmt.Fprintf(cmd.OutOrStderr(), "%s (%s)\n", line, p.Elapsed.Round(time.Second))
	}
}
