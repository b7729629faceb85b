package main

// main.go implements the vmcore inspector CLI: it parses command-line
// flags, fetches the debug snapshot from a running corevm process, and
// prints it either as pretty text or JSON. It also supports periodic watch
// mode and pprof snapshot download.
//
// The target process is expected to expose:
//   - GET /debug/vmcore/snapshot — JSON payload, see pkg/vmcore.Snapshot.
//   - GET /debug/pprof/{heap,goroutine} — standard pprof handlers.
//
// The snapshot object is decoded into map[string]any to avoid version skew
// between the CLI and the library it inspects.
//
// © 2026 corevm authors. MIT License.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var version = "dev"

type options struct {
	target            string
	json              bool
	watch             bool
	interval          time.Duration
	heapProfile       string
	goroutineProfile  string
	version           bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.target, "target", "http://localhost:6060", "base URL of the inspected vmcore process")
	flag.BoolVar(&o.json, "json", false, "print the snapshot as JSON instead of a table")
	flag.BoolVar(&o.watch, "watch", false, "poll the snapshot endpoint repeatedly")
	flag.DurationVar(&o.interval, "interval", 2*time.Second, "poll interval in watch mode")
	flag.StringVar(&o.heapProfile, "heap-profile", "", "download the heap pprof profile to this path and exit")
	flag.StringVar(&o.goroutineProfile, "goroutine-profile", "", "download the goroutine pprof profile to this path and exit")
	flag.BoolVar(&o.version, "version", false, "print the CLI version and exit")
	flag.Parse()
	return o
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(log, err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(log, err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(log, err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/vmcore/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("GC seq number:   %v\n", data["gc_seq_number"])
	buckets, _ := data["callsite_buckets"].([]any)
	fmt.Printf("Callsite arities in use: %d\n", len(buckets))
	for _, b := range buckets {
		m, ok := b.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("  arity=%v count=%v bytes=%v\n", m["Arity"], m["Count"], m["Bytes"])
	}
	return nil
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(log *zap.Logger, err error) {
	log.Error("vmcore-inspect failed", zap.Error(err))
	os.Exit(1)
}
