package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/setevik/eventwatch/internal/config"
	"github.com/setevik/eventwatch/internal/decode"
	"github.com/setevik/eventwatch/internal/event"
	"github.com/setevik/eventwatch/internal/monitor"
	"github.com/setevik/eventwatch/internal/query"
	"github.com/setevik/eventwatch/internal/reporter"
)

// runQuery prints the WQL filter the configured monitor would subscribe with.
func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (.toml, .yaml)")
	mf := registerMonitorFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := mf.apply(fs, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	spec, err := monitorSpec(cfg.Monitor)
	if err == nil {
		var q string
		if q, err = query.Build(spec); err == nil {
			fmt.Println(q)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// runDecode reads JSON-lines event records and prints the decoded form of
// each supported one.
func runDecode(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	file := fs.String("file", "", "JSON-lines file of event records (default stdin)")
	asJSON := fs.Bool("json", false, "print decoded records as JSON")
	fs.Parse(args)

	in := io.Reader(os.Stdin)
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	decoded, skipped, err := decodeRecords(in, os.Stdout, *asJSON)
	fmt.Fprintf(os.Stderr, "%d decoded, %d skipped\n", decoded, skipped)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func decodeRecords(in io.Reader, out io.Writer, asJSON bool) (decoded, skipped int, err error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var r event.Record
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return decoded, skipped, fmt.Errorf("line %d: %w", line, err)
		}
		d, ok := decode.Decode(r)
		if !ok {
			skipped++
			continue
		}

		if asJSON {
			if err := enc.Encode(d); err != nil {
				return decoded, skipped, err
			}
		} else {
			s, err := reporter.FormatDecoded(d)
			if err != nil {
				return decoded, skipped, fmt.Errorf("line %d: %w", line, err)
			}
			fmt.Fprintln(out, s)
		}
		decoded++
	}
	return decoded, skipped, sc.Err()
}

// handleID stands in for a live subscription handle when the listing comes
// from the API.
type handleID string

func (h handleID) ID() string { return string(h) }

type listedMonitor struct {
	SubscriptionID string    `json:"subscription_id"`
	Host           string    `json:"host"`
	Handle         string    `json:"handle"`
	Filter         string    `json:"filter"`
	Persistent     bool      `json:"persistent"`
	Started        time.Time `json:"started"`
}

// runList prints the active monitors of a running watcher.
func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	apiURL := fs.String("api", "http://"+config.DefaultListen, "base URL of a running eventwatch API")
	fs.Parse(args)

	infos, err := fetchMonitors(context.Background(), *apiURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := reporter.FormatMonitorTable(os.Stdout, infos, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func fetchMonitors(ctx context.Context, base string) ([]monitor.MonitorInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/monitors", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching monitors: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching monitors: status %d", resp.StatusCode)
	}

	var listed []listedMonitor
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, fmt.Errorf("decoding monitors: %w", err)
	}

	infos := make([]monitor.MonitorInfo, 0, len(listed))
	for _, m := range listed {
		info := monitor.MonitorInfo{
			SubscriptionID: m.SubscriptionID,
			Host:           m.Host,
			Filter:         m.Filter,
			Persistent:     m.Persistent,
			Started:        m.Started,
		}
		if m.Handle != "" {
			info.Handle = handleID(m.Handle)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// runTestNtfy sends a synthetic lockout notification.
func runTestNtfy(args []string) {
	fs := flag.NewFlagSet("test-ntfy", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (.toml, .yaml)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Ntfy.URL == "" {
		fmt.Fprintln(os.Stderr, "error: ntfy.url is not configured")
		os.Exit(1)
	}

	host, _ := os.Hostname()
	r := reporter.TestRecord(host)
	priority := cfg.NtfyPriority(r.Severity().Key())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	n := reporter.NewNtfy(cfg)
	if err := n.Send(ctx, reporter.FormatTitle(r), reporter.FormatBody(r), priority, reporter.TagsForCode(r.EventCode)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Test notification sent to", cfg.Ntfy.URL)
}
