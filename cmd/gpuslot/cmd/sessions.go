package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/gpuslot/internal/logging"
	"github.com/psantana5/gpuslot/internal/session"
)

// killAllCmd represents the kill-all command
var killAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Kill every session started by gpuslot",
	Long: `Kill every tmux session whose name starts with the session prefix
followed by "-". Each kill is logged as "<session> killed".`,
	Args: cobra.NoArgs,
	RunE: runKillAll,
}

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live gpuslot sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(killAllCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func ownSessions(ctx context.Context, sessions session.Manager) []string {
	return sessions.List(ctx).WithPrefix(sessionPrefix() + "-")
}

func runKillAll(cmd *cobra.Command, args []string) error {
	log, err := newLogger(true)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	sessions := newSessions()
	names := ownSessions(ctx, sessions)
	if len(names) == 0 {
		log.Info("no sessions to kill", logging.Fields{"prefix": sessionPrefix()})
		return nil
	}

	failed := 0
	for _, name := range names {
		if err := sessions.Kill(ctx, name); err != nil {
			log.Error("failed to kill session", logging.Fields{"session": name, "error": err.Error()})
			failed++
			continue
		}
		log.Info(name + " killed")
	}
	if failed > 0 {
		return fmt.Errorf("failed to kill %d of %d sessions", failed, len(names))
	}
	return nil
}

type sessionInfo struct {
	Name  string `json:"name"`
	JobID string `json:"job_id"`
	PID   int    `json:"pid,omitempty"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tmux := newSessions()
	prefix := sessionPrefix() + "-"

	var infos []sessionInfo
	for _, name := range ownSessions(ctx, tmux) {
		info := sessionInfo{Name: name, JobID: strings.TrimPrefix(name, prefix)}
		if pid, err := tmux.PanePID(ctx, name); err == nil {
			info.PID = pid
		}
		infos = append(infos, info)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions running")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Session", "Job Id", "PID")
	for _, info := range infos {
		pid := ""
		if info.PID != 0 {
			pid = strconv.Itoa(info.PID)
		}
		table.Append(info.Name, info.JobID, pid)
	}
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal sessions: %d\n", len(infos))
	return nil
}
