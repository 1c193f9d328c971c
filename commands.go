package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"abiguard/pkg/abi"
	"abiguard/pkg/artifact"
	"abiguard/pkg/cheader"
	"abiguard/pkg/config"
	"abiguard/pkg/descfile"
)

// errConflicts fails a run where one name was cataloged as two kinds.
var errConflicts = errors.New("symbol name used by more than one kind")

// result is one in-memory generation.
type result struct {
	cfg     *config.Config
	policy  *abi.Policy
	report  abi.Report
	catalog *abi.Catalog
	text    []byte
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	o.log.Debug("loaded config", "path", o.configPath, "frontend", cfg.Frontend.Kind, "unit", cfg.Unit)
	return cfg, nil
}

// generate runs the whole pipeline and keeps the artifact in memory.
func (o *rootOptions) generate(ctx context.Context, strict bool) (*result, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	allow, err := cfg.AllowList()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	preamble, err := cfg.PreambleText()
	if err != nil {
		return nil, err
	}
	src, err := openSource(cfg, o.log)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	rep, cat, err := abi.Run(ctx, src, abi.Options{
		Target:    cfg.Unit,
		AllowList: allow,
		Policy:    policy,
		Preamble:  preamble,
		Log:       o.log,
	}, &buf)
	if err != nil {
		return nil, err
	}
	if !rep.Active {
		return nil, fmt.Errorf("unit %s is not the configured target %s", rep.Unit, cfg.Unit)
	}
	if len(rep.Conflicts) > 0 {
		return nil, fmt.Errorf("%w: %v", errConflicts, rep.Conflicts)
	}
	if strict && len(rep.Missing) > 0 {
		return nil, fmt.Errorf("missing wanted symbols: %v", rep.Missing)
	}
	return &result{cfg: cfg, policy: policy, report: rep, catalog: cat, text: buf.Bytes()}, nil
}

func newGenerateCmd(o *rootOptions) *cobra.Command {
	var out string
	var strict bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the assertion file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.generate(cmd.Context(), strict)
			if err != nil {
				return err
			}
			path := res.cfg.Output
			if out != "" {
				path = out
			}
			f, err := artifact.Create(path)
			if err != nil {
				return err
			}
			defer f.Abort()
			if _, err := f.Write(res.text); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			if err := f.Commit(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d symbols (%d missing, %d warnings) -> %s\n",
				res.report.Symbols, len(res.report.Missing), res.report.Warnings, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: output from the config)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when a wanted symbol is missing")
	return cmd
}

func newCheckCmd(o *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fail if the committed assertion file is out of date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.generate(cmd.Context(), strict)
			if err != nil {
				return err
			}
			diff, err := artifact.Check(res.cfg.Output, string(res.text))
			if diff != "" {
				fmt.Fprint(cmd.OutOrStdout(), diff)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", res.cfg.Output)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when a wanted symbol is missing")
	return cmd
}

func newSnapshotCmd(o *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the catalog as canonical JSON with its sha256 digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.generate(cmd.Context(), false)
			if err != nil {
				return err
			}
			snap, err := artifact.NewSnapshot(config.Version, res.report.Unit, res.catalog, res.policy)
			if err != nil {
				return err
			}
			if out == "" {
				return artifact.WriteSnapshot(cmd.OutOrStdout(), snap)
			}
			f, err := artifact.Create(out)
			if err != nil {
				return err
			}
			defer f.Abort()
			if err := artifact.WriteSnapshot(f, snap); err != nil {
				return err
			}
			return f.Commit()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the snapshot to a file instead of stdout")
	return cmd
}

func newDumpCmd(o *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Show the declarations and macros the front-end reports",
		Long: `dump prints the unfiltered front-end view of the configured unit.

Formats:
  yaml   a descriptor document, loadable by the descriptors front-end
  types  the header front-end's typedef, tag and constant tables
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			src, err := openSource(cfg, o.log)
			if err != nil {
				return err
			}
			return dump(cmd.OutOrStdout(), src, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "yaml or types")
	return cmd
}

func dump(w io.Writer, src abi.Source, format string) error {
	switch format {
	case "yaml":
		return descfile.Encode(w, descfile.FromSource(src))
	case "types":
		u, ok := src.(*cheader.Unit)
		if !ok {
			return fmt.Errorf("--format types needs the header front-end, not %T", src)
		}
		_, err := io.WriteString(w, u.Types().String())
		return err
	}
	return fmt.Errorf("--format: unknown format %q", format)
}

