// Package previews generates preview images for uploads by running the
// external commands configured in previewers.json.
package previews

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mfridman/interpolate"
)

// Config is the parsed previewers.json.
type Config struct {
	Previewers []Previewer `json:"previewers"`
}

// Previewer turns uploads of a matching MIME type into a preview.
type Previewer struct {
	Feature  string    `json:"feature,omitempty"`
	Match    Matcher   `json:"match"`
	Commands []Command `json:"commands"`
}

// Enabled reports whether the previewer has no feature gate or its
// feature was compiled in.
func (p *Previewer) Enabled() bool {
	return p.Feature == "" || FeatureEnabled(p.Feature)
}

// Matcher selects MIME types either exactly or by prefix.
type Matcher struct {
	Exact  *string `json:"exact,omitempty"`
	Prefix *string `json:"prefix,omitempty"`
}

func (m *Matcher) UnmarshalJSON(data []byte) error {
	type raw Matcher
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if (r.Exact == nil) == (r.Prefix == nil) {
		return errors.New(`matcher must have exactly one of "exact" or "prefix"`)
	}
	*m = Matcher(r)
	return nil
}

func (m Matcher) Matches(mimeType string) bool {
	switch {
	case m.Exact != nil:
		return mimeType == *m.Exact
	case m.Prefix != nil:
		return strings.HasPrefix(mimeType, *m.Prefix)
	}
	return false
}

// CommandName is either a single program name or a per-OS map.
type CommandName struct {
	Name     string
	Platform map[string]string
}

func (c *CommandName) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*c = CommandName{Name: name}
		return nil
	}

	var platform map[string]string
	if err := json.Unmarshal(data, &platform); err != nil {
		return errors.New("command must be a string or a map of OS to command")
	}
	if len(platform) == 0 {
		return errors.New("command map is empty")
	}
	*c = CommandName{Platform: platform}
	return nil
}

func (c CommandName) MarshalJSON() ([]byte, error) {
	if c.Platform != nil {
		return json.Marshal(c.Platform)
	}
	return json.Marshal(c.Name)
}

// Select returns the program for goos. The key "macos" is accepted for darwin.
func (c CommandName) Select(goos string) (string, bool) {
	if c.Platform == nil {
		return c.Name, c.Name != ""
	}
	if name, ok := c.Platform[goos]; ok {
		return name, true
	}
	if goos == "darwin" {
		name, ok := c.Platform["macos"]
		return name, ok
	}
	return "", false
}

// Command is one step of a previewer.
type Command struct {
	Command CommandName `json:"command"`
	Args    []string    `json:"args"`
}

// Variables available to command arguments.
const (
	VarInput     = "input"
	VarInputBase = "input_base"
	VarOutput    = "output"
	VarTempDir   = "temp_dir"
)

var knownVars = map[string]struct{}{
	VarInput:     {},
	VarInputBase: {},
	VarOutput:    {},
	VarTempDir:   {},
}

// Build resolves the program for goos and expands ${var} references in the
// arguments. Referencing a variable outside the fixed set is an error.
func (c Command) Build(goos string, vars map[string]string) (string, []string, error) {
	name, ok := c.Command.Select(goos)
	if !ok {
		return "", nil, fmt.Errorf("no command for platform %q", goos)
	}

	env := interpolate.NewMapEnv(vars)
	args := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		idents, err := interpolate.Identifiers(arg)
		if err != nil {
			return "", nil, fmt.Errorf("parse argument %q: %w", arg, err)
		}
		for _, id := range idents {
			if _, ok := knownVars[id]; !ok {
				return "", nil, fmt.Errorf("unknown variable %q in argument %q", id, arg)
			}
		}
		expanded, err := interpolate.Interpolate(env, arg)
		if err != nil {
			return "", nil, fmt.Errorf("expand argument %q: %w", arg, err)
		}
		args = append(args, expanded)
	}
	return name, args, nil
}

// LoadConfig reads previewers.json. A missing file yields an empty config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read previewer config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse previewer config: %w", err)
	}
	for i, p := range cfg.Previewers {
		if p.Feature != "" && !KnownFeature(p.Feature) {
			return nil, fmt.Errorf("previewer %d: unknown feature %q", i, p.Feature)
		}
	}
	return &cfg, nil
}

// Find returns the first enabled previewer matching mimeType, or nil.
func (c *Config) Find(mimeType string) *Previewer {
	for i := range c.Previewers {
		p := &c.Previewers[i]
		if p.Enabled() && p.Match.Matches(mimeType) {
			return p
		}
	}
	return nil
}
