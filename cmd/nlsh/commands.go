package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanhsu/nlsh/internal/api"
	"github.com/evanhsu/nlsh/internal/config"
	"github.com/evanhsu/nlsh/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Translate a natural-language request into shell commands",
	Long: `Translate a natural-language request into ranked shell command candidates.

Examples:
  nlsh ask update my system
  nlsh ask "find all pdf files modified this week"
  nlsh ask --run install ripgrep`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		sessionID, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")
		interactive, _ := cmd.Flags().GetBool("run")

		cwd, err := os.Getwd()
		if err != nil {
			cwd = ""
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/interpret", api.InterpretRequest{
			Prompt:    prompt,
			Cwd:       cwd,
			SessionID: sessionID,
		})
		if err != nil {
			return err
		}

		var result api.InterpretResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		if len(result.Candidates) == 0 {
			printWarning("No command suggestions for this request.")
			fmt.Fprintf(os.Stderr, "  record: %s\n", result.RecordID)
			return nil
		}

		for i, c := range result.Candidates {
			rank := colorize(colorBold, fmt.Sprintf("%d.", i+1))
			fmt.Printf("%s %s %s\n", rank, colorize(colorGreen, c.Command), colorize(colorCyan, fmt.Sprintf("[%.2f]", c.Score)))
		}

		if interactive {
			return runCandidate(cmd, client, result)
		}

		fmt.Fprintf(os.Stderr, "\n  record: %s\n", result.RecordID)
		fmt.Fprintf(os.Stderr, "  report with: nlsh feedback %s accepted|rejected|modified\n", result.RecordID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to group related requests")
	askCmd.Flags().Bool("json", false, "print the raw JSON response")
	askCmd.Flags().Bool("run", false, "pick a candidate interactively, run it and record the outcome")
}

// runCandidate asks the user to pick a candidate, runs it through the shell
// and reports the outcome back to the daemon. The command is never executed
// without an explicit selection.
func runCandidate(cmd *cobra.Command, client *apiClient, result api.InterpretResponse) error {
	fmt.Fprintf(os.Stderr, "\nrun [1-%d], e<n> to edit, or q to skip: ", len(result.Candidates))

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading selection: %w", err)
	}
	choice := strings.TrimSpace(line)

	report := func(req api.FeedbackRequest) {
		resp, err := client.post(cmd.Context(), "/interactions/"+result.RecordID+"/feedback", req)
		if err != nil {
			printWarning("could not record feedback: %v", err)
			return
		}
		var ok map[string]string
		if err := decodeJSON(resp, &ok); err != nil {
			printWarning("could not record feedback: %v", err)
		}
	}

	if choice == "" || choice == "q" {
		report(api.FeedbackRequest{Feedback: "rejected"})
		return nil
	}

	edit := false
	if strings.HasPrefix(choice, "e") {
		edit = true
		choice = strings.TrimSpace(choice[1:])
		if choice == "" {
			choice = "1"
		}
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(result.Candidates) {
		report(api.FeedbackRequest{Feedback: "rejected"})
		return fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}

	selected := result.Candidates[n-1].Command
	toRun := selected
	if edit {
		fmt.Fprintf(os.Stderr, "edit: %s\n> ", selected)
		edited, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading edited command: %w", err)
		}
		if e := strings.TrimSpace(edited); e != "" {
			toRun = e
		}
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	run := exec.CommandContext(cmd.Context(), shell, "-c", toRun)
	run.Stdin = os.Stdin
	run.Stdout = os.Stdout
	run.Stderr = os.Stderr

	exitCode := int64(0)
	if err := run.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = int64(exitErr.ExitCode())
		} else {
			report(api.FeedbackRequest{Feedback: "rejected"})
			return fmt.Errorf("running command: %w", err)
		}
	}

	fb := "accepted"
	if toRun != selected {
		fb = "modified"
	}
	report(api.FeedbackRequest{
		Feedback:        fb,
		SelectedCommand: selected,
		ExecutedCommand: toRun,
		ExitCode:        &exitCode,
	})
	if exitCode == 0 {
		printSuccess("Recorded %s (exit 0)", fb)
	} else {
		printWarning("Recorded %s (exit %d)", fb, exitCode)
	}
	return nil
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <record-id> <accepted|rejected|modified>",
	Short: "Report what happened to a suggested command",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, fb := args[0], args[1]
		selected, _ := cmd.Flags().GetString("selected")
		executed, _ := cmd.Flags().GetString("executed")

		req := api.FeedbackRequest{
			Feedback:        fb,
			SelectedCommand: selected,
			ExecutedCommand: executed,
		}
		if cmd.Flags().Changed("exit-code") {
			code, _ := cmd.Flags().GetInt64("exit-code")
			req.ExitCode = &code
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/interactions/"+recordID+"/feedback", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded %s for %s", fb, shortID(recordID))
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("selected", "", "the candidate command that was picked")
	feedbackCmd.Flags().String("executed", "", "the command actually run, if edited")
	feedbackCmd.Flags().Int64("exit-code", 0, "exit code of the executed command")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		q := url.Values{}
		q.Set("limit", fmt.Sprintf("%d", limit))
		for flag, param := range map[string]string{
			"session":  "session_id",
			"feedback": "feedback",
			"intent":   "intent",
		} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				q.Set(param, v)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions?"+q.Encode())
		if err != nil {
			return err
		}

		var interactions []storage.Interaction
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(interactions)
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			prompt := ix.Prompt
			if len(prompt) > 60 {
				prompt = prompt[:60] + "..."
			}
			fmt.Printf("%s  %s  %-8s  %s\n",
				colorize(colorCyan, shortID(ix.ID)),
				ix.CreatedTime().Local().Format("2006-01-02 15:04"),
				feedbackLabel(ix.Feedback),
				prompt,
			)
		}
		return nil
	},
}

func feedbackLabel(fb storage.Feedback) string {
	switch fb {
	case storage.FeedbackAccepted:
		return colorize(colorGreen, string(fb))
	case storage.FeedbackRejected:
		return colorize(colorRed, string(fb))
	case storage.FeedbackModified:
		return colorize(colorYellow, string(fb))
	default:
		return string(fb)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	historyCmd.Flags().String("session", "", "filter by session id")
	historyCmd.Flags().String("feedback", "", "filter by feedback: pending, accepted, rejected, modified")
	historyCmd.Flags().String("intent", "", "filter by classified intent")
	historyCmd.Flags().Bool("json", false, "print full records as JSON")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export accepted interactions as NDJSON training data",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		q := url.Values{}
		if v, _ := cmd.Flags().GetString("since"); v != "" {
			q.Set("since", v)
		}
		if v, _ := cmd.Flags().GetString("session"); v != "" {
			q.Set("session_id", v)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/export"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		n, err := io.Copy(w, resp.Body)
		if err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		if output != "" {
			printSuccess("Exported %d bytes to %s", n, output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	exportCmd.Flags().String("since", "", "only export records created after this RFC3339 timestamp")
	exportCmd.Flags().String("session", "", "only export records from this session")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored interactions older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("older-than-days")
		confirm, _ := cmd.Flags().GetBool("confirm")

		if days <= 0 {
			return fmt.Errorf("--older-than-days must be a positive integer")
		}
		if !confirm {
			printWarning("This will delete all interactions older than %d days. Use --confirm to proceed.", days)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/purge", api.PurgeRequest{OlderThanDays: days})
		if err != nil {
			return err
		}

		var result map[string]int64
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d interactions older than %s", result["deleted_count"],
			time.Now().AddDate(0, 0, -days).Format("2006-01-02"))
		return nil
	},
}

func init() {
	clearCmd.Flags().Int("older-than-days", 0, "delete interactions older than this many days (required)")
	clearCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// shortID truncates a UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
