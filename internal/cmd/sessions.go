package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mizuki-ai/kaiwa/internal/session"
	"github.com/mizuki-ai/kaiwa/internal/store"
	"github.com/mizuki-ai/kaiwa/internal/turn"
	"github.com/mizuki-ai/kaiwa/internal/util"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage kaiwa sessions",
	Long:  `Commands for creating, listing, inspecting, and deleting kaiwa sessions.`,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new <session-id>",
	Short: "Create a new session",
	Long: `Create a new empty session with the given ID.

Session IDs may contain "/" to create a child session nested under an
existing parent, e.g. "research/branch-a".`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsNew,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Long:  `List all sessions from the index, most recently updated first.`,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its index entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsCompressCmd = &cobra.Command{
	Use:   "compress <session-id> <start> <end>",
	Short: "Replace a turn range with a summary",
	Long: `Replace turns [start, end] of a session's history with a single
compressed-history turn carrying the given summary text.`,
	Args: cobra.ExactArgs(3),
	RunE: runSessionsCompress,
}

var sessionsCompactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Expire old tool responses in a session",
	Long: `Replace the bodies of tool responses older than the last N user
tasks with a short expiration notice, reducing prompt token usage.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsCompact,
}

var (
	newPurpose      string
	newBackground   string
	showFormat      string
	compressSummary string
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsCompressCmd)
	sessionsCmd.AddCommand(sessionsCompactCmd)

	sessionsNewCmd.Flags().StringVar(&newPurpose, "purpose", "", "What the session is for")
	sessionsNewCmd.Flags().StringVar(&newBackground, "background", "", "Background context for the session")
	sessionsShowCmd.Flags().StringVar(&showFormat, "format", "json", "Output format: json or yaml")
	sessionsCompressCmd.Flags().StringVar(&compressSummary, "summary", "", "Summary text standing in for the replaced turns")
	_ = sessionsCompressCmd.MarkFlagRequired("summary")
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}

	sess, err := st.Create(args[0], newPurpose, newBackground)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("session %q already exists", args[0])
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created session %s\n", idStyle.Render(sess.SessionID))
	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}

	infos, err := st.ListSortedByLastUpdated()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("Kaiwa Sessions"))
	fmt.Fprintln(out, strings.Repeat("─", 70))

	if len(infos) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		fmt.Fprintln(out, "Run 'kaiwa sessions new <id>' to create one.")
		return nil
	}

	now := time.Now()
	for _, info := range infos {
		purpose := info.Purpose
		if purpose == "" {
			purpose = "(no purpose)"
		}
		fmt.Fprintf(out, "  %s\n", idStyle.Render(info.SessionID))
		fmt.Fprintf(out, "    Purpose: %s\n", util.Truncate(purpose, 60))
		fmt.Fprintf(out, "    %s\n", mutedStyle.Render(fmt.Sprintf(
			"created %s, updated %s",
			info.CreatedAt.Format(time.RFC822),
			util.RelativeTime(info.LastUpdatedAt, now))))
	}
	fmt.Fprintf(out, "\n%d session(s)\n", len(infos))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}

	sess, err := st.Load(args[0])
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	var data []byte
	switch showFormat {
	case "json":
		data, err = json.MarshalIndent(sess, "", "  ")
	case "yaml":
		// Round-trip through JSON so the yaml encoder sees the same
		// field names the session file uses.
		var doc map[string]any
		raw, merr := json.Marshal(sess)
		if merr == nil {
			merr = json.Unmarshal(raw, &doc)
		}
		if merr != nil {
			return fmt.Errorf("failed to encode session: %w", merr)
		}
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", showFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Close()

	if err := st.Delete(args[0]); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	log.WithSession(args[0]).Info("session deleted")
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func runSessionsCompress(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Close()

	start, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid start index %q", args[1])
	}
	end, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid end index %q", args[2])
	}

	if err := st.ReplaceRangeWithSummary(args[0], compressSummary, start, end); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if errors.Is(err, turn.ErrOutOfRange) {
			return fmt.Errorf("turn range [%d, %d] out of range for %s", start, end, args[0])
		}
		return fmt.Errorf("failed to compress session: %w", err)
	}

	log.WithSession(args[0]).Info("history compressed", "start", start, "end", end)
	fmt.Fprintf(cmd.OutOrStdout(), "Compressed turns [%d, %d] of %s\n", start, end, args[0])
	return nil
}

func runSessionsCompact(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Close()

	modified, err := st.ExpireOldToolResponses(args[0], cfg.Session.ExpirationThreshold)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		return fmt.Errorf("failed to compact session: %w", err)
	}

	if modified {
		log.WithSession(args[0]).Info("tool responses expired", "threshold", cfg.Session.ExpirationThreshold)
		fmt.Fprintf(cmd.OutOrStdout(), "Expired old tool responses in %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to expire in %s\n", args[0])
	}
	return nil
}
