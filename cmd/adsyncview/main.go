package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/jpvalente/adsync/internal/config"
	"github.com/jpvalente/adsync/internal/logging"
	"github.com/jpvalente/adsync/internal/session"
)

// adsyncview tails the daemon's broadcast log over the control API, with a
// live status line on top. Read-only: all control actions live in adsyncctl.
func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	base := "http://" + cfg.HTTP.Addr

	app := tview.NewApplication()

	statusBar := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	statusBar.SetBackgroundColor(tcell.ColorDarkBlue)

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	logView.SetBorder(true).SetTitle(fmt.Sprintf(" adsyncd [%s] ", sessionName))

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(statusBar, 1, 0, false).
		AddItem(logView, 0, 1, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tailLogs(ctx, app, base, statusBar, logView)

	if err := app.SetRoot(layout, true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// tailLogs polls the control API and appends new entries to the view.
func tailLogs(ctx context.Context, app *tview.Application, base string, statusBar, logView *tview.TextView) {
	client := &http.Client{Timeout: 5 * time.Second}
	var after uint64

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		state := fetchState(ctx, client, base)
		entries := fetchLogs(ctx, client, base, after)

		app.QueueUpdateDraw(func() {
			statusBar.SetText(fmt.Sprintf("[white::b] state: %s ", state))
			for _, e := range entries {
				fmt.Fprintf(logView, "[gray]%s[-] [%s]%-5s[-] %s\n",
					e.Time.Format("15:04:05"), levelColor(e.Level), e.Level, tview.Escape(e.Message))
			}
			if len(entries) > 0 {
				logView.ScrollToEnd()
			}
		})
		if len(entries) > 0 {
			after = entries[len(entries)-1].Seq
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fetchState(ctx context.Context, client *http.Client, base string) string {
	var resp struct {
		State string `json:"state"`
	}
	if err := getJSON(ctx, client, base+"/api/status", &resp); err != nil {
		return "UNREACHABLE"
	}
	return resp.State
}

func fetchLogs(ctx context.Context, client *http.Client, base string, after uint64) []logging.Entry {
	var resp struct {
		Entries []logging.Entry `json:"entries"`
	}
	url := fmt.Sprintf("%s/api/logs?after=%d", base, after)
	if err := getJSON(ctx, client, url, &resp); err != nil {
		return nil
	}
	return resp.Entries
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func levelColor(level string) string {
	switch level {
	case "error", "ERROR":
		return "red"
	case "warn", "WARN":
		return "yellow"
	default:
		return "green"
	}
}
