// ABOUTME: Operator CLI for the coordd coordination server
// ABOUTME: Talks to the HTTP API with JWT authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
                            _      _   _
  ___ ___   ___  _ __ __ _ | | ___| |_| |
 / __/ _ \ / _ \| '__/ _' || |/ __| __| |
| (_| (_) | (_) | | | (_| || | (__| |_| |
 \___\___/ \___/|_|  \__,_||_|\___|\__|_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("COORD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	token := getToken()

	c := &client{baseURL: baseURL, token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "locks":
		err = cmdLocks(c, args)
	case "agents":
		err = cmdAgents(c)
	case "shadow":
		err = cmdShadow(c, args)
	case "orch":
		err = cmdOrch(c, args)
	case "announce":
		err = cmdAnnounce(c, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: coordctl <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  locks                       List held resource locks")
	fmt.Println("  locks release <resource>    Release a lock")
	fmt.Println("  agents                      List agents (active / offline)")
	fmt.Println("  shadow list                 List shadow registrations")
	fmt.Println("  shadow check                Run a staleness check now")
	fmt.Println("  shadow takeover <primary>   Force a shadow takeover")
	fmt.Println("  shadow release <primary>    Stand a shadow down")
	fmt.Println("  orch list                   List orchestrations")
	fmt.Println("  orch show <id>              Show one orchestration with subtasks")
	fmt.Println("  announce tail [n]           Show recent announcements")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  COORD_URL                   Server base URL (default: http://localhost:8080)")
	fmt.Println("  COORD_TOKEN                 JWT authentication token")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export COORD_TOKEN=\"eyJhbG...\"")
	fmt.Println("  coordctl locks")
	fmt.Println("  coordctl shadow takeover agent-7")
	fmt.Println()
}

func getToken() string {
	// Check env var first
	if token := os.Getenv("COORD_TOKEN"); token != "" {
		return token
	}

	// Try to read from token file
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "coordd", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// client is a thin JSON HTTP client for the coordd API.
type client struct {
	baseURL string
	token   string
}

// do performs a request and decodes the JSON response into out (when non-nil).
// Non-2xx responses are turned into errors carrying the server's message.
func (c *client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// cmdLocks handles the locks command and its release subcommand.
func cmdLocks(c *client, args []string) error {
	if len(args) > 0 && (args[0] == "release" || args[0] == "rm") {
		if len(args) < 2 {
			return fmt.Errorf("usage: coordctl locks release <resource>")
		}
		resource := args[1]
		if err := c.do(http.MethodDelete, "/api/locks?resource="+url.QueryEscape(resource), nil, nil); err != nil {
			return err
		}
		color.Green("Released %s\n", resource)
		return nil
	}

	var resp struct {
		Locks []struct {
			ResourcePath string    `json:"resourcePath"`
			LockedBy     string    `json:"lockedBy"`
			Reason       string    `json:"reason"`
			ExpiresAt    time.Time `json:"expiresAt"`
		} `json:"locks"`
	}
	if err := c.do(http.MethodGet, "/api/locks", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Resource Locks")
	cyan.Println("  --------------")

	if len(resp.Locks) == 0 {
		fmt.Println("  (no locks held)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  RESOURCE\tHOLDER\tEXPIRES\tREASON")
	fmt.Fprintln(w, "  --------\t------\t-------\t------")
	for _, l := range resp.Locks {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			truncate(l.ResourcePath, 40),
			l.LockedBy,
			l.ExpiresAt.Local().Format("15:04:05"),
			truncate(l.Reason, 30),
		)
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdAgents lists agents with their presence classification.
func cmdAgents(c *client) error {
	var resp struct {
		Active []struct {
			ID          string    `json:"id"`
			Status      string    `json:"status"`
			CurrentTask string    `json:"currentTask"`
			LastSeen    time.Time `json:"lastSeen"`
		} `json:"active"`
		Offline []struct {
			ID       string    `json:"id"`
			LastSeen time.Time `json:"lastSeen"`
		} `json:"offline"`
	}
	if err := c.do(http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Agents")
	cyan.Println("  ------")

	if len(resp.Active) == 0 && len(resp.Offline) == 0 {
		fmt.Println("  (no agents)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  AGENT\tSTATE\tSTATUS\tTASK\tLAST SEEN")
	fmt.Fprintln(w, "  -----\t-----\t------\t----\t---------")
	for _, a := range resp.Active {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			a.ID, color.GreenString("active"), a.Status, truncate(a.CurrentTask, 30), a.LastSeen.Local().Format("Jan 02 15:04"))
	}
	for _, a := range resp.Offline {
		fmt.Fprintf(w, "  %s\t%s\t\t\t%s\n",
			a.ID, color.RedString("offline"), a.LastSeen.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdShadow handles the shadow subcommands.
func cmdShadow(c *client, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdShadowList(c)
	case "check":
		return cmdShadowCheck(c)
	case "takeover":
		if len(args) < 1 {
			return fmt.Errorf("usage: coordctl shadow takeover <primary> [reason]")
		}
		reason := ""
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		body := map[string]string{"primaryAgentId": args[0], "reason": reason}
		if err := c.do(http.MethodPost, "/api/shadow/takeover", body, nil); err != nil {
			return err
		}
		color.Green("Shadow for %s is now active\n", args[0])
		return nil
	case "release":
		if len(args) < 1 {
			return fmt.Errorf("usage: coordctl shadow release <primary>")
		}
		body := map[string]string{"primaryAgentId": args[0]}
		if err := c.do(http.MethodPost, "/api/shadow/release", body, nil); err != nil {
			return err
		}
		color.Green("Shadow for %s is back on standby\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown shadow subcommand: %s (use list, check, takeover, release)", subcmd)
	}
}

func cmdShadowList(c *client) error {
	var resp struct {
		Shadows []struct {
			ID                   string    `json:"id"`
			PrimaryAgentID       string    `json:"primaryAgentId"`
			Status               string    `json:"status"`
			LastPrimaryHeartbeat time.Time `json:"lastPrimaryHeartbeat"`
			AutoTakeover         bool      `json:"autoTakeover"`
		} `json:"shadows"`
	}
	if err := c.do(http.MethodGet, "/api/shadow", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Shadow Agents")
	cyan.Println("  -------------")

	if len(resp.Shadows) == 0 {
		fmt.Println("  (no shadows registered)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PRIMARY\tSTATUS\tLAST HEARTBEAT\tAUTO")
	fmt.Fprintln(w, "  -------\t------\t--------------\t----")
	for _, s := range resp.Shadows {
		status := s.Status
		switch s.Status {
		case "standby":
			status = color.GreenString(s.Status)
		case "taking-over", "active":
			status = color.YellowString(s.Status)
		}
		auto := "no"
		if s.AutoTakeover {
			auto = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			s.PrimaryAgentID, status, s.LastPrimaryHeartbeat.Local().Format("Jan 02 15:04:05"), auto)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdShadowCheck(c *client) error {
	var resp struct {
		Results []struct {
			PrimaryAgentID string `json:"primaryAgentId"`
			Status         string `json:"status"`
			StaleForMs     int64  `json:"staleForMs"`
			Action         string `json:"action"`
		} `json:"results"`
	}
	if err := c.do(http.MethodPost, "/api/shadow/check", nil, &resp); err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		fmt.Println("(no shadows registered)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIMARY\tACTION\tSTATUS\tSTALE FOR")
	for _, r := range resp.Results {
		action := r.Action
		switch r.Action {
		case "took-over", "stale":
			action = color.RedString(r.Action)
		case "healthy":
			action = color.GreenString(r.Action)
		}
		staleFor := time.Duration(r.StaleForMs) * time.Millisecond
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.PrimaryAgentID, action, r.Status, staleFor.Round(time.Second))
	}
	w.Flush()
	return nil
}

// cmdOrch handles the orchestration subcommands.
func cmdOrch(c *client, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdOrchList(c)
	case "show":
		if len(args) < 1 {
			return fmt.Errorf("usage: coordctl orch show <id>")
		}
		return cmdOrchShow(c, args[0])
	default:
		return fmt.Errorf("unknown orch subcommand: %s (use list, show)", subcmd)
	}
}

type orchView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Coordinator string `json:"coordinator"`
	Status      string `json:"status"`
	Synthesis   string `json:"synthesis"`
	Subtasks    []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Assignee string `json:"assignee"`
		Status   string `json:"status"`
	} `json:"subtasks"`
	CreatedAt time.Time `json:"createdAt"`
}

func cmdOrchList(c *client) error {
	var resp struct {
		Orchestrations []orchView `json:"orchestrations"`
	}
	if err := c.do(http.MethodGet, "/api/orchestrations", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Orchestrations")
	cyan.Println("  --------------")

	if len(resp.Orchestrations) == 0 {
		fmt.Println("  (no orchestrations)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tSTATUS\tSUBTASKS\tCOORDINATOR")
	fmt.Fprintln(w, "  --\t-----\t------\t--------\t-----------")
	for _, o := range resp.Orchestrations {
		done := 0
		for _, st := range o.Subtasks {
			if st.Status == "completed" || st.Status == "failed" {
				done++
			}
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d/%d\t%s\n",
			truncate(o.ID, 12), truncate(o.Title, 32), o.Status, done, len(o.Subtasks), o.Coordinator)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdOrchShow(c *client, id string) error {
	var o orchView
	if err := c.do(http.MethodGet, "/api/orchestrations/"+id, nil, &o); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s\n", o.Title)
	cyan.Println("  " + strings.Repeat("-", len(o.Title)))
	fmt.Printf("  ID:          %s\n", o.ID)
	fmt.Printf("  Coordinator: %s\n", o.Coordinator)
	fmt.Printf("  Status:      %s\n", o.Status)
	if o.Synthesis != "" {
		fmt.Printf("  Synthesis:   %s\n", o.Synthesis)
	}
	fmt.Println()

	if len(o.Subtasks) == 0 {
		fmt.Println("  (no subtasks)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SUBTASK\tASSIGNEE\tSTATUS")
	fmt.Fprintln(w, "  -------\t--------\t------")
	for _, st := range o.Subtasks {
		status := st.Status
		switch st.Status {
		case "completed":
			status = color.GreenString(st.Status)
		case "failed":
			status = color.RedString(st.Status)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", truncate(st.Title, 40), st.Assignee, status)
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdAnnounce handles the announce subcommands.
func cmdAnnounce(c *client, args []string) error {
	subcmd := "tail"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}
	if subcmd != "tail" {
		return fmt.Errorf("unknown announce subcommand: %s (use tail)", subcmd)
	}

	limit := "20"
	if len(args) > 0 {
		limit = args[0]
	}

	var resp struct {
		Announcements []struct {
			Author   string    `json:"author"`
			Text     string    `json:"text"`
			PostedAt time.Time `json:"postedAt"`
		} `json:"announcements"`
	}
	if err := c.do(http.MethodGet, "/api/announcements?limit="+url.QueryEscape(limit), nil, &resp); err != nil {
		return err
	}

	if len(resp.Announcements) == 0 {
		fmt.Println("(no announcements)")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for i := len(resp.Announcements) - 1; i >= 0; i-- {
		a := resp.Announcements[i]
		gray.Printf("%s ", a.PostedAt.Local().Format("Jan 02 15:04:05"))
		color.New(color.FgCyan).Printf("%s ", a.Author)
		fmt.Println(a.Text)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
