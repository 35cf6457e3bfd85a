package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/opscribe/internal/config"
)

// document mirrors the daemon's document view.
type document struct {
	ID            string    `json:"id"`
	MeetingID     string    `json:"meeting_id"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Version       int       `json:"version"`
	LatestVersion int       `json:"latest_version"`
	Content       string    `json:"content"`
	Flowchart     string    `json:"flowchart,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type documentVersion struct {
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ChangeSummary string    `json:"change_summary"`
	CreatedAt     time.Time `json:"created_at"`
}

type observationSession struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meeting_id"`
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type sessionReply struct {
	Session observationSession `json:"session"`
	Live    *struct {
		Observations int `json:"observations"`
	} `json:"live,omitempty"`
}

type clarification struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
	Answer   string `json:"answer,omitempty"`
}

type meeting struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- document ---

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"doc"},
	Short:   "Inspect and manage synthesized documents",
}

var documentShowCmd = &cobra.Command{
	Use:   "show <meeting-id> <procedure|role>",
	Short: "Print the current document content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var doc document
		if err := client.call(commandContext(cmd), http.MethodGet, meetingPath(args[0], "documents", args[1]), nil, &doc); err != nil {
			return err
		}
		if asJSON {
			return printJSON(doc)
		}

		printStatus("Document", "%s (%s)", doc.Title, doc.Kind)
		printStatus("Version", "%d of %d", doc.Version, doc.LatestVersion)
		printStatus("Status", "%s", doc.Status)
		fmt.Println()
		fmt.Println(doc.Content)
		if doc.Flowchart != "" {
			fmt.Println()
			fmt.Println("```mermaid")
			fmt.Println(doc.Flowchart)
			fmt.Println("```")
		}
		return nil
	},
}

var documentVersionsCmd = &cobra.Command{
	Use:   "versions <meeting-id> <procedure|role>",
	Short: "List the version history of a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var versions []documentVersion
		if err := client.call(commandContext(cmd), http.MethodGet, meetingPath(args[0], "documents", args[1], "versions"), nil, &versions); err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No versions found.")
			return nil
		}
		for _, v := range versions {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, fmt.Sprintf("v%d", v.Version)),
				v.CreatedAt.Local().Format(time.DateTime),
				truncate(v.ChangeSummary, 80),
			)
		}
		return nil
	},
}

var documentRollbackCmd = &cobra.Command{
	Use:   "rollback <meeting-id> <procedure|role> <version>",
	Short: "Make an earlier version current",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[2])
		if err != nil || version < 1 {
			return fmt.Errorf("version must be a positive integer, got %q", args[2])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var doc document
		body := map[string]int{"version": version}
		if err := client.call(commandContext(cmd), http.MethodPost, meetingPath(args[0], "documents", args[1], "rollback"), body, &doc); err != nil {
			return err
		}
		printSuccess("%s now at version %d", doc.Kind, doc.Version)
		return nil
	},
}

var documentStatusCmd = &cobra.Command{
	Use:   "status <meeting-id> <procedure|role> <draft|reviewed|approved>",
	Short: "Set a document's review status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var doc document
		body := map[string]string{"status": args[2]}
		if err := client.call(commandContext(cmd), http.MethodPatch, meetingPath(args[0], "documents", args[1], "status"), body, &doc); err != nil {
			return err
		}
		printSuccess("%s marked %s", doc.Kind, doc.Status)
		return nil
	},
}

func init() {
	documentShowCmd.Flags().Bool("json", false, "print the raw JSON view")
	documentCmd.AddCommand(documentShowCmd)
	documentCmd.AddCommand(documentVersionsCmd)
	documentCmd.AddCommand(documentRollbackCmd)
	documentCmd.AddCommand(documentStatusCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive a meeting's observation workflow",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <meeting-id>",
	Short: "Show the observation session of a meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var reply sessionReply
		if err := client.call(commandContext(cmd), http.MethodGet, meetingPath(args[0], "session"), nil, &reply); err != nil {
			return err
		}
		printSession(reply)
		return nil
	},
}

func printSession(reply sessionReply) {
	printStatus("Session", "%s", reply.Session.ID)
	printStatus("Phase", "%s", reply.Session.Phase)
	printStatus("Status", "%s", reply.Session.Status)
	if reply.Live != nil {
		printStatus("Live", "%d observations buffered", reply.Live.Observations)
	}
}

// sessionActionCmd builds the advance/pause/resume/complete subcommands,
// which differ only in the path they post to.
func sessionActionCmd(action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <meeting-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var reply sessionReply
			if err := client.call(commandContext(cmd), http.MethodPost, meetingPath(args[0], "session", action), nil, &reply); err != nil {
				return err
			}
			printSuccess("%s (phase %s, %s)", done, reply.Session.Phase, reply.Session.Status)
			return nil
		},
	}
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionActionCmd("advance", "Move to the next workflow phase", "Advanced"))
	sessionCmd.AddCommand(sessionActionCmd("pause", "Stop analyzing incoming events", "Paused"))
	sessionCmd.AddCommand(sessionActionCmd("resume", "Resume analysis after a pause", "Resumed"))
	sessionCmd.AddCommand(sessionActionCmd("complete", "Finish the observation session", "Completed"))
}

// --- clarify ---

var clarifyCmd = &cobra.Command{
	Use:   "clarify",
	Short: "Manage clarification questions",
}

var clarifyListCmd = &cobra.Command{
	Use:   "list <meeting-id>",
	Short: "List clarification questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := meetingPath(args[0], "clarifications")
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}
		var cs []clarification
		if err := client.call(commandContext(cmd), http.MethodGet, path, nil, &cs); err != nil {
			return err
		}
		if len(cs) == 0 {
			fmt.Println("No clarifications found.")
			return nil
		}
		for _, c := range cs {
			fmt.Printf("%s  [%s]  %s\n", colorize(colorCyan, shortID(c.ID)), c.Status, c.Question)
			if c.Answer != "" {
				fmt.Printf("    %s\n", truncate(c.Answer, 120))
			}
		}
		return nil
	},
}

var clarifyAskCmd = &cobra.Command{
	Use:   "ask <meeting-id> <question>",
	Short: "Record a clarification question",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{
			"question": strings.Join(args[1:], " "),
			"category": category,
		}
		var c clarification
		if err := client.call(commandContext(cmd), http.MethodPost, meetingPath(args[0], "clarifications"), body, &c); err != nil {
			return err
		}
		printSuccess("Recorded question %s", c.ID)
		return nil
	},
}

var clarifyAnswerCmd = &cobra.Command{
	Use:   "answer <id> <answer>",
	Short: "Answer a pending question",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"answer": strings.Join(args[1:], " ")}
		var c clarification
		if err := client.call(commandContext(cmd), http.MethodPost, "/clarifications/"+url.PathEscape(args[0])+"/answer", body, &c); err != nil {
			return err
		}
		printSuccess("Answered %s", shortID(c.ID))
		return nil
	},
}

var clarifySkipCmd = &cobra.Command{
	Use:   "skip <id>",
	Short: "Skip a pending question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var c clarification
		if err := client.call(commandContext(cmd), http.MethodPost, "/clarifications/"+url.PathEscape(args[0])+"/skip", nil, &c); err != nil {
			return err
		}
		printSuccess("Skipped %s", shortID(c.ID))
		return nil
	},
}

func init() {
	clarifyListCmd.Flags().String("status", "", "filter by status (pending, answered, skipped)")
	clarifyAskCmd.Flags().String("category", "", "question category")
	clarifyCmd.AddCommand(clarifyListCmd)
	clarifyCmd.AddCommand(clarifyAskCmd)
	clarifyCmd.AddCommand(clarifyAnswerCmd)
	clarifyCmd.AddCommand(clarifySkipCmd)
}

// --- meeting ---

var meetingCmd = &cobra.Command{
	Use:   "meeting",
	Short: "List or delete meetings",
}

var meetingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent meetings",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var meetings []meeting
		if err := client.call(commandContext(cmd), http.MethodGet, fmt.Sprintf("/meetings?limit=%d", limit), nil, &meetings); err != nil {
			return err
		}
		if len(meetings) == 0 {
			fmt.Println("No meetings found.")
			return nil
		}
		for _, m := range meetings {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, m.ID),
				m.CreatedAt.Local().Format(time.DateTime),
				m.Title,
			)
		}
		return nil
	},
}

var meetingDeleteCmd = &cobra.Command{
	Use:   "delete <meeting-id>",
	Short: "Delete a meeting and everything recorded for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the meeting's documents, sessions and clarifications. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.call(commandContext(cmd), http.MethodDelete, meetingPath(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted meeting %s", args[0])
		return nil
	},
}

func init() {
	meetingListCmd.Flags().Int("limit", 20, "maximum number of meetings to list")
	meetingDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	meetingCmd.AddCommand(meetingListCmd)
	meetingCmd.AddCommand(meetingDeleteCmd)
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
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
