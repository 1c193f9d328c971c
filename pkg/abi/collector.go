package abi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
)

// State is the Collector's position in its one-shot lifecycle.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateFinalizing
	StateDone
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateCollecting: "collecting",
	StateFinalizing: "finalizing",
	StateDone:       "done",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrNotCollecting = errors.New("collector is not collecting")
	ErrFinished      = errors.New("collector already finished")
)

// Options configures a Collector.
type Options struct {
	// Target is the only translation unit the collector reacts to.
	// Units are compared by base name. Empty accepts any unit.
	Target    string
	AllowList *AllowList
	Policy    *Policy
	// Preamble precedes the assertions; DefaultPreamble when empty.
	Preamble string
	Log      *slog.Logger
}

// Report summarises a finished run.
type Report struct {
	Unit      string
	Active    bool     // false when the unit was not the target
	Symbols   int      // cataloged symbols
	Missing   []string // exact allow-list names never seen
	Conflicts []string // cross-kind name collisions
	Warnings  int
}

// Collector consumes declaration events for one translation unit and renders
// the catalog once the unit is finished.
//
//	Idle --Begin(target)--> Collecting --Finish--> Finalizing --> Done
type Collector struct {
	opts    Options
	log     *slog.Logger
	state   State
	unit    string
	active  bool
	extract *Extractor
	catalog *Catalog
}

func NewCollector(opts Options) *Collector {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.AllowList == nil {
		opts.AllowList = NewAllowList(nil, nil)
	}
	if opts.Preamble == "" {
		opts.Preamble = DefaultPreamble
	}
	return &Collector{
		opts:    opts,
		log:     log,
		extract: NewExtractor(log),
		catalog: NewCatalog(),
	}
}

func (c *Collector) State() State { return c.state }

// Catalog exposes the symbols collected so far.
func (c *Collector) Catalog() *Catalog { return c.catalog }

// Begin announces the unit being compiled. It returns true when the unit is
// the target; any other unit leaves the collector inert.
func (c *Collector) Begin(unit string) bool {
	if c.state != StateIdle || c.unit != "" {
		return c.active
	}
	c.unit = unit
	if c.opts.Target != "" && filepath.Base(unit) != filepath.Base(c.opts.Target) {
		c.log.Debug("unit is not the target, ignoring", "unit", unit, "target", c.opts.Target)
		return false
	}
	c.active = true
	c.state = StateCollecting
	c.log = c.log.With("unit", unit)
	return true
}

// Declare handles one declaration-finished event.
func (c *Collector) Declare(d TypeDecl) {
	if c.state != StateCollecting {
		return
	}
	if !c.opts.AllowList.IsWanted(d.Name) {
		return
	}
	// A repeat of the same kind is dropped quietly; a different kind still
	// goes through Add so the clash is recorded.
	if prev, ok := c.catalog.Get(d.Name); ok && sameKind(prev.Kind(), d.Kind) {
		return
	}
	sym, ok := c.extract.ExtractType(d)
	if !ok {
		c.log.Debug("declaration not extractable", "symbol", d.Name, "kind", d.Kind)
		return
	}
	c.catalog.Add(d.Name, sym)
}

func sameKind(k Kind, d DeclKind) bool {
	switch d {
	case DeclStruct:
		return k == KindStruct
	case DeclEnum:
		return k == KindEnum
	}
	return true
}

// Finish scans macros, reports missing symbols and writes the artifact to out.
// For a unit that is not the target it writes nothing.
func (c *Collector) Finish(macros MacroTable, out io.Writer) (Report, error) {
	switch c.state {
	case StateDone:
		return c.report(nil), ErrFinished
	case StateIdle:
		if c.unit == "" {
			return Report{}, ErrNotCollecting
		}
		c.state = StateDone
		return c.report(nil), nil
	}
	c.state = StateFinalizing
	defer func() { c.state = StateDone }()

	if macros != nil {
		c.scanMacros(macros)
	}

	missing := c.catalog.Missing(c.opts.AllowList.Exact())
	for _, name := range missing {
		c.extract.warn("missing wanted symbol", "symbol", name)
	}
	for _, conflict := range c.catalog.Conflicts() {
		c.log.Error("symbol name used by more than one kind", "conflict", conflict)
	}

	if _, err := io.WriteString(out, c.opts.Preamble+"\n"); err != nil {
		return c.report(missing), fmt.Errorf("write preamble: %w", err)
	}
	if err := NewRenderer(c.opts.Policy).Render(out, c.catalog); err != nil {
		return c.report(missing), fmt.Errorf("render %s: %w", c.unit, err)
	}
	return c.report(missing), nil
}

func (c *Collector) scanMacros(macros MacroTable) {
	names := macros.Names()
	sort.Strings(names)
	for _, name := range names {
		if !c.opts.AllowList.IsWanted(name) {
			continue
		}
		def, ok := macros.Definition(name)
		if !ok {
			continue
		}
		if c.catalog.Has(name) {
			// Still record a cross-kind clash.
			if sym, ok := c.extract.ExtractMacro(name, def); ok {
				c.catalog.Add(name, sym)
			}
			continue
		}
		sym, ok := c.extract.ExtractMacro(name, def)
		if !ok {
			c.log.Debug("macro has no value", "symbol", name)
			continue
		}
		c.catalog.Add(name, sym)
	}
}

func (c *Collector) report(missing []string) Report {
	return Report{
		Unit:      c.unit,
		Active:    c.active,
		Symbols:   c.catalog.Len(),
		Missing:   missing,
		Conflicts: c.catalog.Conflicts(),
		Warnings:  c.extract.Warnings(),
	}
}

// Run drives a Collector over src and writes the artifact to out.
// The context is checked between declarations.
func Run(ctx context.Context, src Source, opts Options, out io.Writer) (Report, *Catalog, error) {
	c := NewCollector(opts)
	if !c.Begin(src.Unit()) {
		rep, err := c.Finish(nil, out)
		return rep, c.Catalog(), err
	}
	for d := range src.Declarations() {
		if err := ctx.Err(); err != nil {
			return c.report(nil), c.Catalog(), err
		}
		c.Declare(d)
	}
	rep, err := c.Finish(src.Macros(), out)
	return rep, c.Catalog(), err
}
