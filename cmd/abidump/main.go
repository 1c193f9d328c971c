// Command abidump prints every stage of the C header front-end for one
// file: preprocessed text, tokens, declarations, type tables and macros.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"abiguard/pkg/cheader"
)

func main() {
	var includeDirs []string
	var model string
	var showTokens bool

	cmd := &cobra.Command{
		Use:          "abidump <header>",
		Short:        "Dump the C header front-end pipeline",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm, err := cheader.ModelByName(model)
			if err != nil {
				return err
			}
			return dump(args[0], includeDirs, dm, showTokens)
		},
	}
	cmd.Flags().StringArrayVarP(&includeDirs, "include", "I", nil, "add an include directory")
	cmd.Flags().StringVarP(&model, "model", "m", "lp64", "data model: lp64, ilp32 or llp64")
	cmd.Flags().BoolVar(&showTokens, "tokens", false, "also print the token stream")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "abidump:", err)
		os.Exit(1)
	}
}

func dump(path string, includeDirs []string, dm cheader.DataModel, showTokens bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}

	// Preprocess
	pp := cheader.NewPreprocessor(cheader.PreprocessOptions{IncludeDirs: includeDirs})
	src, err := pp.Run(string(data), filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("preprocess error: %w", err)
	}
	fmt.Printf("Source:\n%s\n", src)

	// Lex
	tokens, err := cheader.Lex(src)
	if err != nil {
		return fmt.Errorf("lex error: %w", err)
	}
	fmt.Printf("Tokens (%d)\n", len(tokens))
	if showTokens {
		for _, tok := range tokens {
			fmt.Println(" ", tok)
		}
	}
	fmt.Println()

	// Parse, through the same entry point the generator uses so the
	// builtin typedefs are present.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	u, err := cheader.ParseFile(path, cheader.Config{IncludeDirs: includeDirs, Model: dm, Log: log})
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	fmt.Printf("Declarations (%s)\n", dm.Name)
	for d := range u.Declarations() {
		fmt.Printf("  %s %s size=%d\n", d.Kind, d.Name, d.Size)
		for _, f := range d.Fields {
			fmt.Printf("    %-24s offset=%d size=%d\n", f.Name, f.Offset, f.Size)
		}
		for _, e := range d.Enumerators {
			fmt.Printf("    %-24s %v\n", e.Name, e.Value)
		}
	}
	fmt.Println()

	fmt.Println("Macros")
	for _, name := range u.Macros().Names() {
		def, _ := u.Macros().Definition(name)
		fmt.Println(" ", def)
	}
	fmt.Println()

	fmt.Print(u.Types())
	return nil
}
