// Package config loads the YAML file that drives a generation run: which
// unit to watch, what to extract from it, which symbols may grow and where
// the artifact goes.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"abiguard/pkg/abi"
	"abiguard/pkg/cheader"
	"abiguard/pkg/wanted"
)

// Version is the tool version checked against a config's requires constraint.
const Version = "0.3.0"

// ErrInvalid wraps every schema, version and consistency failure.
var ErrInvalid = errors.New("invalid config")

// Front-end kinds.
const (
	FrontendHeader      = "header"
	FrontendDescriptors = "descriptors"
	FrontendDWARF       = "dwarf"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://abiguard.local/config.schema.json"

type Config struct {
	Requires     string   `yaml:"requires"`
	Unit         string   `yaml:"unit"`
	Output       string   `yaml:"output"`
	Preamble     string   `yaml:"preamble"`
	WantedHeader string   `yaml:"wanted_header"`
	Allow        Allow    `yaml:"allow"`
	Growable     Growable `yaml:"growable"`
	Frontend     Frontend `yaml:"frontend"`

	// Dir is the directory relative paths were resolved against.
	Dir string `yaml:"-"`
}

type Allow struct {
	Exact    []string `yaml:"exact"`
	Prefixes []string `yaml:"prefixes"`
}

type Growable struct {
	Structs []string `yaml:"structs"`
	Enums   []string `yaml:"enums"`
	// Rules are CEL expressions over kind and name.
	Rules []string `yaml:"rules"`
}

type Frontend struct {
	Kind        string            `yaml:"kind"`
	Inputs      []string          `yaml:"inputs"`
	IncludeDirs []string          `yaml:"include_dirs"`
	Defines     map[string]string `yaml:"defines"`
	Macros      string            `yaml:"macros"`
	DataModel   string            `yaml:"data_model"`
}

// Load reads, validates and decodes the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes data. Relative paths are resolved against dir.
func Parse(data []byte, dir string) (*Config, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := checkRequires(cfg.Requires); err != nil {
		return nil, err
	}
	if cfg.Frontend.Kind == FrontendDWARF && len(cfg.Frontend.Inputs) != 1 {
		return nil, fmt.Errorf("%w: dwarf front-end takes exactly one object file", ErrInvalid)
	}
	if cfg.Frontend.Macros != "" && cfg.Frontend.Kind != FrontendDWARF {
		return nil, fmt.Errorf("%w: frontend.macros only applies to the dwarf front-end", ErrInvalid)
	}
	if _, err := cheader.ModelByName(cfg.Frontend.DataModel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.resolve(dir)
	return &cfg, nil
}

func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: empty document", ErrInvalid)
	}

	// The validator expects JSON values, so round-trip through encoding/json.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var inst any
	if err := dec.Decode(&inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("config schema load failed: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("config schema compile failed: %w", err)
	}
	return schema, nil
}

func checkRequires(requires string) error {
	if requires == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(requires)
	if err != nil {
		return fmt.Errorf("%w: requires %q: %v", ErrInvalid, requires, err)
	}
	v := semver.MustParse(Version)
	if !constraint.Check(v) {
		return fmt.Errorf("%w: requires abiguard %s, this is %s", ErrInvalid, requires, v)
	}
	return nil
}

func (c *Config) resolve(dir string) {
	c.Dir = dir
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Output = abs(c.Output)
	c.Preamble = abs(c.Preamble)
	c.WantedHeader = abs(c.WantedHeader)
	c.Frontend.Macros = abs(c.Frontend.Macros)
	for i, p := range c.Frontend.Inputs {
		c.Frontend.Inputs[i] = abs(p)
	}
	for i, p := range c.Frontend.IncludeDirs {
		c.Frontend.IncludeDirs[i] = abs(p)
	}
	if c.Frontend.Kind == "" {
		c.Frontend.Kind = FrontendHeader
	}
}

// TargetUnit is the configured unit, or the first input when none is set.
func (c *Config) TargetUnit() string {
	if c.Unit != "" {
		return c.Unit
	}
	if len(c.Frontend.Inputs) > 0 {
		return filepath.Base(c.Frontend.Inputs[0])
	}
	return ""
}

// AllowList merges the inline lists with the wanted header, if any.
func (c *Config) AllowList() (*abi.AllowList, error) {
	exact := append([]string(nil), c.Allow.Exact...)
	prefixes := append([]string(nil), c.Allow.Prefixes...)
	if c.WantedHeader != "" {
		l, err := wanted.ParseHeader(c.WantedHeader, c.Frontend.Defines)
		if err != nil {
			return nil, err
		}
		exact = append(exact, l.Exact()...)
		prefixes = append(prefixes, l.Prefixes...)
	}
	return abi.NewAllowList(exact, prefixes), nil
}

// Policy compiles the growable overrides and rules.
func (c *Config) Policy() (*abi.Policy, error) {
	rules, err := CompileRules(c.Growable.Rules)
	if err != nil {
		return nil, err
	}
	return abi.NewPolicy(c.Growable.Structs, c.Growable.Enums, rules...), nil
}

// PreambleText returns the preamble file content, or "" for the built-in one.
func (c *Config) PreambleText() (string, error) {
	if c.Preamble == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Preamble)
	if err != nil {
		return "", fmt.Errorf("reading preamble: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// Model is the data model for the header front-end.
func (c *Config) Model() cheader.DataModel {
	m, _ := cheader.ModelByName(c.Frontend.DataModel)
	return m
}
