package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"abiguard/pkg/abi"
	"abiguard/pkg/cheader"
	"abiguard/pkg/config"
	"abiguard/pkg/descfile"
	"abiguard/pkg/dwarfsrc"
)

// openSource builds the front-end the config asks for.
func openSource(cfg *config.Config, log *slog.Logger) (abi.Source, error) {
	fe := cfg.Frontend
	switch fe.Kind {
	case config.FrontendHeader:
		hc := cheader.Config{
			IncludeDirs: fe.IncludeDirs,
			Defines:     fe.Defines,
			Model:       cfg.Model(),
			Log:         log,
		}
		var u *cheader.Unit
		var err error
		if len(fe.Inputs) == 1 {
			u, err = cheader.ParseFile(fe.Inputs[0], hc)
		} else {
			// Several headers are compiled as one unit that includes each in turn.
			var b strings.Builder
			for _, in := range fe.Inputs {
				fmt.Fprintf(&b, "#include %q\n", in)
			}
			u, err = cheader.ParseSource(cfg.TargetUnit(), b.String(), cfg.Dir, hc)
		}
		if err != nil {
			return nil, err
		}
		return u, nil

	case config.FrontendDescriptors:
		if len(fe.Inputs) == 1 {
			f, err := descfile.Load(fe.Inputs[0])
			if err != nil {
				return nil, err
			}
			return f, nil
		}
		var readers []io.Reader
		for i, in := range fe.Inputs {
			f, err := os.Open(in)
			if err != nil {
				return nil, fmt.Errorf("open descriptors: %w", err)
			}
			defer f.Close()
			if i > 0 {
				readers = append(readers, strings.NewReader("\n---\n"))
			}
			readers = append(readers, f)
		}
		f, err := descfile.Decode(io.MultiReader(readers...), filepath.Base(fe.Inputs[0]))
		if err != nil {
			return nil, err
		}
		return f, nil

	case config.FrontendDWARF:
		obj, err := dwarfsrc.Open(fe.Inputs[0], dwarfsrc.Options{
			Unit:      cfg.Unit,
			MacroDump: fe.Macros,
			Log:       log,
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	}
	return nil, fmt.Errorf("%w: unknown front-end %q", config.ErrInvalid, fe.Kind)
}
