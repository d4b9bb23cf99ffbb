package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	slackadapter "github.com/chatvault/chatvault/internal/adapter/slack"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/importer"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage import sessions",
	Long: `Sessions lists, inspects, resumes, and discards import checkpoints.

Every import run is checkpointed under ~/.chatvault/checkpoints. Completed
sessions keep their final statistics; incomplete ones hold enough state to
resume without re-fetching finished conversations.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import sessions, most recent first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the full state of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsResumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume an interrupted import",
	Long: `Resume continues an interrupted import session. With no argument the most
recently updated incomplete session is picked.

The session's original filters and bounds are reapplied; only the workspace
to authenticate against must be supplied again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsResume,
}

var resumeWorkspace string

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsResumeCmd)

	sessionsResumeCmd.Flags().StringVar(&resumeWorkspace, "workspace", "", "Slack workspace/team name (or set import.slack.workspace in config)")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cp := openCheckpoints(log)
	summaries, err := cp.List()
	if err != nil {
		return err
	}
	if summaries == nil {
		fmt.Fprintf(cmd.OutOrStderr(), "No sessions found\n")
	}
	return OutputJSON(summaries)
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cp := openCheckpoints(log)
	state, err := cp.Get(args[0])
	if err != nil {
		return err
	}
	return OutputJSON(state)
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cp := openCheckpoints(log)
	if err := cp.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStderr(), "Deleted session %s\n", args[0])
	return nil
}

func runSessionsResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	workspace := resumeWorkspace
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

	fmt.Fprintf(cmd.OutOrStderr(), "Authenticating with Slack workspace %s...\n", workspace)
	client, err := slackadapter.New(workspace, log)
	if err != nil {
		return err
	}

	cp := openCheckpoints(log)
	defer cp.Close()

	opts := importer.Options{
		Client:      client,
		Store:       db,
		Checkpoints: cp,
		Observer:    progressPrinter(cmd),
		Logger:      log,
	}
	if len(args) == 1 {
		opts.Resume = args[0]
	} else {
		opts.ResumeLatest = true
	}

	session, err := importer.New(opts)
	if err != nil {
		return err
	}

	result, err := session.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStderr(), "\nCompleted!\n")
	return OutputJSON(result)
}
