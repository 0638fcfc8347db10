// Command starbox-exec runs one snippet and prints its report. The snippet
// is read from the file named by the first argument, or from stdin when the
// argument is absent or "-".
//
// Without --server the snippet runs in-process with default limits. With
// --server it is sent to the execute tool of a remote starbox instance; the
// API key is taken from --api-key or STARBOX_API_KEY.
//
// The exit status is 1 when the report describes a failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/starbox/pkg/capability"
	"github.com/rhuss/starbox/pkg/config"
	"github.com/rhuss/starbox/pkg/debug"
	"github.com/rhuss/starbox/pkg/harness"
	"github.com/rhuss/starbox/pkg/sandbox"
	"github.com/rhuss/starbox/pkg/transport/mcpclient"
)

func main() {
	server := flag.String("server", "", "URL of a remote starbox MCP endpoint")
	apiKey := flag.String("api-key", os.Getenv("STARBOX_API_KEY"), "API key for the remote server")
	timeout := flag.Duration("timeout", 0, "per-run time limit (local runs)")
	flag.Parse()

	debug.Init("", "WARN")

	code, err := readSnippet(flag.Arg(0))
	if err != nil {
		slog.Error("reading snippet", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var text string
	var failed bool
	if *server != "" {
		text, failed, err = runRemote(ctx, *server, *apiKey, code)
	} else {
		text, failed, err = runLocal(ctx, *timeout, code)
	}
	if err != nil {
		slog.Error("execution failed", "error", err)
		os.Exit(2)
	}

	fmt.Println(text)
	if failed {
		os.Exit(1)
	}
}

func readSnippet(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func runLocal(ctx context.Context, timeout time.Duration, code string) (string, bool, error) {
	limits := config.Defaults().Sandbox
	if timeout > 0 {
		limits.Timeout = timeout
	}

	set, err := capability.Build(capability.Options{})
	if err != nil {
		return "", false, err
	}
	svc, err := sandbox.New(sandbox.Options{
		Runner: harness.New(set, harness.Config{
			Timeout:        limits.Timeout,
			MaxSteps:       limits.MaxSteps,
			MaxCallDepth:   limits.MaxCallDepth,
			MaxOutputBytes: limits.MaxOutputBytes,
		}),
		MaxConcurrent: 1,
	})
	if err != nil {
		return "", false, err
	}

	res := svc.Run(ctx, code)
	return res.Text, res.Failed(), nil
}

func runRemote(ctx context.Context, url, apiKey, code string) (string, bool, error) {
	client := mcpclient.New(mcpclient.Config{URL: url, APIKey: apiKey})
	if err := client.Connect(ctx); err != nil {
		return "", false, err
	}
	defer client.Close()

	rep, err := client.Execute(ctx, code)
	if err != nil {
		return "", false, err
	}
	return rep.Text, rep.IsError, nil
}
