package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jpvalente/adsync/internal/config"
	"github.com/jpvalente/adsync/internal/mirror"
	"github.com/jpvalente/adsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	yesFlag := flag.Bool("yes", false, "skip confirmation for destructive commands")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	c := &client{base: "http://" + cfg.HTTP.Addr}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: adsyncctl messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1], *jsonFlag)
	case "navigate":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: adsyncctl navigate <url>")
			os.Exit(1)
		}
		cmdNavigate(ctx, c, args[1])
	case "delete-all":
		cmdDeleteAll(ctx, c, *yesFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: adsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations        List synced conversations")
	fmt.Fprintln(os.Stderr, "  messages <id>        List a conversation's messages")
	fmt.Fprintln(os.Stderr, "  navigate <url>       Point the attached browser at a URL")
	fmt.Fprintln(os.Stderr, "  delete-all --yes     Delete every synced record")
}

// client is a thin JSON client for the daemon's control API.
type client struct {
	base string
	http http.Client
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s", e.Error)
		}
		return fmt.Errorf("daemon: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func cmdStatus(ctx context.Context, c *client, jsonOut bool) {
	var resp struct {
		Session string `json:"session"`
		State   string `json:"state"`
	}
	if err := c.get(ctx, "/api/status", &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %s\n", resp.Session)
	fmt.Printf("State:   %s\n", resp.State)
}

func cmdConversations(ctx context.Context, c *client, jsonOut bool) {
	var resp struct {
		Conversations []mirror.Conversation `json:"conversations"`
	}
	if err := c.get(ctx, "/api/conversations", &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp.Conversations)
		return
	}
	if len(resp.Conversations) == 0 {
		fmt.Println("no conversations synced yet")
		return
	}
	for _, conv := range resp.Conversations {
		phone := conv.PhoneNumber
		if phone == "" {
			phone = "-"
		}
		fmt.Printf("%-12s %-24s %-12s unread:%d  %s\n",
			conv.ConversationID, conv.UserName, phone, conv.UnreadCount, conv.LastMessage)
	}
}

func cmdMessages(ctx context.Context, c *client, conversationID string, jsonOut bool) {
	var resp struct {
		Messages []mirror.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/conversations/"+conversationID+"/messages", &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp.Messages)
		return
	}
	for _, m := range resp.Messages {
		ts := "-"
		if m.Timestamp > 0 {
			ts = time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		}
		marker := ""
		if m.DegradedTime {
			marker = " (time approximate)"
		}
		fmt.Printf("[%s] %-6s %s%s\n", ts, m.Sender, m.Content, marker)
	}
}

func cmdNavigate(ctx context.Context, c *client, url string) {
	if err := c.post(ctx, "/api/navigate", map[string]string{"url": url}, nil); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

func cmdDeleteAll(ctx context.Context, c *client, yes bool) {
	if !yes {
		fmt.Fprintln(os.Stderr, "refusing to delete all synced records without --yes")
		os.Exit(1)
	}
	if err := c.post(ctx, "/api/sync/delete-all", map[string]bool{"confirm": true}, nil); err != nil {
		fail(err)
	}
	fmt.Println("all synced records deleted")
}
