// Package config loads the JSON configuration the CLI passes to the
// conversion engine (spec §6). Credential handling and the legacy
// tool's XML configuration format are out of scope (spec §1); this is
// the thinnest reader that satisfies the core's Config struct.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TxSpec is either a literal transaction id or one of the keywords
// "first", "highest", "now".
type TxSpec struct {
	Keyword string
	Value   int
	IsValue bool
}

func (t *TxSpec) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*t = TxSpec{Value: n, IsValue: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tx spec must be an integer or one of first/highest/now: %w", err)
	}
	switch s {
	case "first", "highest", "now":
		*t = TxSpec{Keyword: s}
	default:
		return fmt.Errorf("unrecognized tx keyword %q", s)
	}
	return nil
}

// UserMapping resolves one source username to a git identity (spec §6,
// SPEC_FULL §3).
type UserMapping struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

// Method selects the retrieval pipeline's iteration strategy (spec §4.3).
type Method string

const (
	MethodPop      Method = "pop"
	MethodDiff     Method = "diff"
	MethodDeepHist Method = "deep-hist"
)

// EmptyChildStreamAction selects the policy for spec §4.5's empty-diff
// child propagation case.
type EmptyChildStreamAction string

const (
	EmptyChildMerge      EmptyChildStreamAction = "merge"
	EmptyChildCherryPick EmptyChildStreamAction = "cherry-pick"
)

// Config is the engine's full configuration surface (spec §6 plus the
// ambient fields SPEC_FULL §1.3 adds).
type Config struct {
	Depot   string   `json:"depot"`
	Streams []string `json:"streams"`

	StartTx TxSpec `json:"start-tx"`
	EndTx   TxSpec `json:"end-tx"`

	Method                  Method                  `json:"method"`
	SourceStreamFastForward bool                    `json:"source-stream-fast-forward"`
	EmptyChildStreamAction  EmptyChildStreamAction  `json:"empty-child-stream-action"`
	UserMap                 map[string]UserMapping  `json:"user-map"`
	RepoPath                string                  `json:"repo-path"`

	LogLevel         string        `json:"log-level"`
	ParallelRetrieval bool         `json:"parallel-retrieval"`
	RefNamespace     string        `json:"ref-namespace"`
	CommandTimeout   time.Duration `json:"command-timeout"`
	Watch            bool          `json:"watch"`

	AccurevBin string `json:"accurev-bin"`
	GitBin     string `json:"git-bin"`
}

// applyDefaults fills in the ambient fields the operator is allowed to
// omit.
func (c *Config) applyDefaults() {
	if c.Method == "" {
		c.Method = MethodDeepHist
	}
	if c.EmptyChildStreamAction == "" {
		c.EmptyChildStreamAction = EmptyChildMerge
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefNamespace == "" {
		c.RefNamespace = "refs/ac2git"
	}
	if c.AccurevBin == "" {
		c.AccurevBin = "accurev"
	}
	if c.GitBin == "" {
		c.GitBin = "git"
	}
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.Depot == "" {
		return fmt.Errorf("config: depot is required")
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("config: streams must name at least one tracked stream")
	}
	if c.RepoPath == "" {
		return fmt.Errorf("config: repo-path is required")
	}
	switch c.Method {
	case MethodPop, MethodDiff, MethodDeepHist:
	default:
		return fmt.Errorf("config: unrecognized method %q", c.Method)
	}
	switch c.EmptyChildStreamAction {
	case EmptyChildMerge, EmptyChildCherryPick:
	default:
		return fmt.Errorf("config: unrecognized empty-child-stream-action %q", c.EmptyChildStreamAction)
	}
	return nil
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
