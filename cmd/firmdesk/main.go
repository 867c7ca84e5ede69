// Command firmdesk is the firmdesk CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/firmdesk/firmdesk/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "firmdesk server URL")
		token     = flag.String("token", os.Getenv("FIRMDESK_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "clients":
		err = cli.cmdClients(rest)
	case "templates":
		err = cli.cmdTemplates(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "invoices":
		err = cli.cmdInvoices(rest)
	case "tick":
		err = cli.cmdTick(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `firmdesk practice automation CLI

Usage:
  firmdesk [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090)
  --token   <token>  JWT auth token (or $FIRMDESK_TOKEN)

Commands:
  version                    print version
  status                     show server status
  clients                    list clients
  templates                  list task templates
  tasks                      list tasks
  task create <title>        create a task
  task start <id>            move a task to in_progress
  task complete <id>         move a task to completed
  task cancel <id>           move a task to cancelled
  invoices                   list invoices
  tick                       run one automation tick now
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("firmdesk %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// post performs a POST and decodes JSON response into v (may be nil).
func (c *Client) post(path string, body io.Reader, v any) error {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]string
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", result["status"])
	fmt.Printf("version: %s\n", result["version"])
	return nil
}

// --- clients ---

func (c *Client) cmdClients(_ []string) error {
	var clients []map[string]any
	if err := c.get("/api/clients", &clients); err != nil {
		return err
	}
	if len(clients) == 0 {
		fmt.Println("no clients")
		return nil
	}
	fmt.Printf("%-36s %-25s %-25s\n", "ID", "NAME", "EMAIL")
	fmt.Println(strings.Repeat("-", 88))
	for _, cl := range clients {
		fmt.Printf("%-36s %-25s %-25s\n",
			strVal(cl["id"]),
			truncate(strVal(cl["name"]), 24),
			truncate(strVal(cl["email"]), 24),
		)
	}
	return nil
}

// --- templates ---

func (c *Client) cmdTemplates(_ []string) error {
	var templates []map[string]any
	if err := c.get("/api/templates", &templates); err != nil {
		return err
	}
	if len(templates) == 0 {
		fmt.Println("no templates")
		return nil
	}
	fmt.Printf("%-36s %-25s %-12s %-10s\n", "ID", "TITLE", "RECURRENCE", "ACTIVE")
	fmt.Println(strings.Repeat("-", 86))
	for _, t := range templates {
		fmt.Printf("%-36s %-25s %-12s %-10s\n",
			strVal(t["id"]),
			truncate(strVal(t["title"]), 24),
			strVal(t["recurrence"]),
			fmt.Sprint(t["active"]),
		)
	}
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(_ []string) error {
	var tasks []map[string]any
	if err := c.get("/api/tasks", &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-36s %-30s %-12s %-12s\n", "ID", "TITLE", "STATUS", "DUE")
	fmt.Println(strings.Repeat("-", 94))
	for _, t := range tasks {
		due := strVal(t["due_date"])
		if len(due) >= 10 {
			due = due[:10]
		}
		fmt.Printf("%-36s %-30s %-12s %-12s\n",
			strVal(t["id"]),
			truncate(strVal(t["title"]), 29),
			strVal(t["status"]),
			due,
		)
	}
	return nil
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: firmdesk task <create|start|complete|cancel> ...")
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: firmdesk task create <title>")
		}
		title := strings.Join(args[1:], " ")
		body := fmt.Sprintf(`{"title":%q,"status":"pending"}`, title)
		var result map[string]any
		if err := c.post("/api/tasks", strings.NewReader(body), &result); err != nil {
			return err
		}
		fmt.Printf("created task %s\n", strVal(result["id"]))
	case "start", "complete", "cancel":
		if len(args) < 2 {
			return fmt.Errorf("usage: firmdesk task %s <id>", sub)
		}
		target := map[string]string{
			"start":    "in_progress",
			"complete": "completed",
			"cancel":   "cancelled",
		}[sub]
		body := fmt.Sprintf(`{"status":%q}`, target)
		var result map[string]any
		if err := c.post("/api/tasks/"+args[1]+"/transition", strings.NewReader(body), &result); err != nil {
			return err
		}
		fmt.Printf("task %s is now %s\n", args[1], strVal(result["status"]))
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
	return nil
}

// --- invoices ---

func (c *Client) cmdInvoices(_ []string) error {
	var invoices []map[string]any
	if err := c.get("/api/invoices", &invoices); err != nil {
		return err
	}
	if len(invoices) == 0 {
		fmt.Println("no invoices")
		return nil
	}
	fmt.Printf("%-18s %-36s %-10s %-10s\n", "NUMBER", "TASK", "TOTAL", "STATUS")
	fmt.Println(strings.Repeat("-", 78))
	for _, inv := range invoices {
		fmt.Printf("%-18s %-36s %-10s %-10s\n",
			strVal(inv["number"]),
			strVal(inv["task_id"]),
			strVal(inv["total"]),
			strVal(inv["status"]),
		)
	}
	return nil
}

// --- tick ---

func (c *Client) cmdTick(_ []string) error {
	var report map[string]any
	if err := c.post("/api/automation/tick", nil, &report); err != nil {
		return err
	}
	fmt.Printf("templates expanded: %s\n", strVal(report["templates_expanded"]))
	fmt.Printf("tasks created:      %s\n", strVal(report["tasks_created"]))
	fmt.Printf("reminders sent:     %s\n", strVal(report["reminders_sent"]))
	fmt.Printf("invoices created:   %s\n", strVal(report["invoices_created"]))
	if errs, ok := report["errors"].([]any); ok && len(errs) > 0 {
		fmt.Printf("errors:             %d\n", len(errs))
	}
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
