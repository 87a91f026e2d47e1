// Command comprobantes classifies one media file, records it in the ledger
// and prints the result as JSON on stdout.
//
// Usage:
//
//	comprobantes <mediaPath> [--source dm|group] [--sender +57...] [--message-id ...]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"comprobantes/internal/cli"
	"comprobantes/internal/services"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errMissingPath = errors.New("missing <mediaPath>")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errMissingPath):
		fmt.Fprintln(stderr, "Missing <mediaPath>")
		return exitUsage
	default:
		fmt.Fprintln(stderr, "error:", err)
		return exitFailure
	}
}

type options struct {
	source     string
	sender     string
	messageID  string
	receivedAt string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "comprobantes <mediaPath>",
		Short: "Classify an invoice or transfer receipt and update the daily totals",
		Long: `Classifies one media file as FACTURA, TRANSACCION or UNKNOWN, extracts
its amount in COP, records it in the ledger and queues an operator
notification. Repeated submissions of the same file are reported as
DUPLICATE without touching the ledger.

Configuration is read from the environment (and .env when present).
Logs go to stderr; stdout carries only the JSON result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "" {
				return errMissingPath
			}
			return cobra.MaximumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return process(cmd.Context(), args[0], opts, stdout, stderr)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", services.DefaultParty, "Where the media came from (dm, group, ...)")
	cmd.Flags().StringVar(&opts.sender, "sender", services.DefaultParty, "Sender identifier, e.g. a phone number")
	cmd.Flags().StringVar(&opts.messageID, "message-id", "", "Upstream message identifier, for logs")
	cmd.Flags().StringVar(&opts.receivedAt, "received-at", "", "Receive time as RFC 3339 (default: now)")
	return cmd
}

func process(ctx context.Context, path string, opts options, stdout, stderr io.Writer) error {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(stderr, os.Getenv("LOG_LEVEL"))

	meta := services.Metadata{
		Source:    opts.source,
		Sender:    opts.sender,
		MessageID: opts.messageID,
	}
	if opts.receivedAt != "" {
		t, err := time.Parse(time.RFC3339, opts.receivedAt)
		if err != nil {
			return fmt.Errorf("invalid --received-at: %w", err)
		}
		meta.ReceivedAt = t
	}

	cfg, err := cli.LoadAndValidateConfig(logger)
	if err != nil {
		return err
	}
	app, err := cli.BuildPipeline(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Pipeline.Process(ctx, path, meta)
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(res)
}
