package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"abiguard/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	log        *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "abiguard",
		Short: "Generate compile-time ABI assertions for firmware/driver interfaces",
		Long: `abiguard reads the structs, enums and macros named in an allow-list from one
translation unit and writes a C file of static assertions pinning their layout.

Commands:
  generate  Write the assertion file
  check     Regenerate in memory and fail if the committed file differs
  snapshot  Print the catalog as canonical JSON with a digest
  dump      Show what the front-end sees
`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(stderr, opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.log = log
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "abiguard.yaml", "path to the configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "text or json")

	root.AddCommand(
		newGenerateCmd(opts),
		newCheckCmd(opts),
		newSnapshotCmd(opts),
		newDumpCmd(opts),
	)
	return root
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", format)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "abiguard:", err)
		os.Exit(1)
	}
}
