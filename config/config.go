// Package config handles bcopt.toml optimizer configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// FileName is the name of the configuration file.
const FileName = "bcopt.toml"

//go:embed schema.cue
var schemaSource string

// Config represents a bcopt.toml configuration.
type Config struct {
	Optimize   Optimize         `toml:"optimize" json:"optimize"`
	Keep       Keep             `toml:"keep" json:"keep"`
	Run        Run              `toml:"run" json:"run"`
	Image      Image            `toml:"image" json:"image"`
	Report     Report           `toml:"report" json:"report"`
	Specialize []Specialization `toml:"specialize" json:"specialize"`

	// Dir is the directory containing the bcopt.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Optimize switches the passes on and off.
type Optimize struct {
	TailRecursion            bool `toml:"tail-recursion" json:"tail-recursion"`
	GeneralizeFields         bool `toml:"generalize-fields" json:"generalize-fields"`
	GeneralizeMethods        bool `toml:"generalize-methods" json:"generalize-methods"`
	DisambiguateInitializers bool `toml:"disambiguate-initializers" json:"disambiguate-initializers"`
}

// Keep lists the patterns of elements that must survive unchanged.
type Keep struct {
	Rules []string `toml:"rules" json:"rules"`
}

// Run configures the driver.
type Run struct {
	Parallelism int  `toml:"parallelism" json:"parallelism"`
	Verbose     bool `toml:"verbose" json:"verbose"`
}

// Image names the class pool images read and written.
type Image struct {
	Input  string `toml:"input" json:"input"`
	Output string `toml:"output" json:"output"`
}

// Report names where the run report goes. Empty paths disable a sink.
type Report struct {
	Output   string `toml:"output" json:"output"`
	Database string `toml:"database" json:"database"`
}

// Specialization requests a new descriptor for a constructor, such as a
// reference parameter narrowed to a subtype.
type Specialization struct {
	Class      string `toml:"class" json:"class"`
	Descriptor string `toml:"descriptor" json:"descriptor"`
	To         string `toml:"to" json:"to"`
}

// Default returns the configuration used when no file sets a value: every
// pass on, four workers, no report.
func Default() *Config {
	return &Config{
		Optimize: Optimize{
			TailRecursion:            true,
			GeneralizeFields:         true,
			GeneralizeMethods:        true,
			DisambiguateInitializers: true,
		},
		Keep:       Keep{Rules: []string{}},
		Run:        Run{Parallelism: 4},
		Specialize: []Specialization{},
	}
}

// Load parses a bcopt.toml file from the given directory, applies
// environment overrides and validates the result.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes a configuration over the defaults, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if c.Keep.Rules == nil {
		c.Keep.Rules = []string{}
	}
	if c.Specialize == nil {
		c.Specialize = []Specialization{}
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a bcopt.toml file,
// then loads and returns the configuration. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ApplyEnv overrides settings from BCOPT_PARALLELISM, BCOPT_VERBOSE and
// BCOPT_REPORT_DB.
func (c *Config) ApplyEnv() {
	c.Run.Parallelism = env.Int("BCOPT_PARALLELISM", c.Run.Parallelism)
	if env.Has("BCOPT_VERBOSE") {
		c.Run.Verbose = env.Bool("BCOPT_VERBOSE")
	}
	c.Report.Database = env.Str("BCOPT_REPORT_DB", c.Report.Database)
}

// Validate checks the configuration against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Path resolves p against the configuration directory. Absolute paths and
// empty strings are returned unchanged.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
