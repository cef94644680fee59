// Package project is the C4 Project Resolver: translates a caller's
// project selection into a concrete collection name and effective
// configuration, enforcing isolation. Project-local and global config
// files are YAML, parsed with gopkg.in/yaml.v3 the way the corpus
// parses Markdown frontmatter elsewhere; the effective-config result is
// cached per project id in a bounded LRU, repurposing a dependency the
// teacher carried only indirectly.
package project

import (
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// CollectionPrefix is the fixed collection-naming scheme; never
// rewritten for existing collections.
const CollectionPrefix = "memory_anchor_notes_"

// DefaultProjectID is used when no precedence source supplies one.
const DefaultProjectID = "default"

// EffectiveConfig is every field a resolved project carries.
type EffectiveConfig struct {
	ProjectID        string
	EmbedderModel    string
	VectorDim        int
	MinSearchScore   float64
	SessionExpire    int // hours
	ConfidenceAuto   float64
	ConfidencePend   float64
	ApprovalsNeeded  int
	BudgetL0         int
	BudgetL1         int
	BudgetL2         int
	BudgetL3         int
	BudgetL4         int
	BudgetTotal      int
	SafetyEnabled    bool
	IsolationStrict  bool
}

// fileConfig is the on-disk shape of a project-local or global YAML
// config file. Every field is optional; an absent field leaves the
// corresponding EffectiveConfig field at the lower-precedence value
// (full shadowing happens at the file level, not the field level — see
// Resolve).
type fileConfig struct {
	EmbedderModel   string   `yaml:"embedder_model"`
	VectorDim       int      `yaml:"vector_dim"`
	MinSearchScore  *float64 `yaml:"min_search_score"`
	SessionExpire   *int     `yaml:"session_expire_hours"`
	ConfidenceAuto  *float64 `yaml:"confidence_auto_save"`
	ConfidencePend  *float64 `yaml:"confidence_pending_min"`
	BudgetL0        *int     `yaml:"budget_l0"`
	BudgetL1        *int     `yaml:"budget_l1"`
	BudgetL2        *int     `yaml:"budget_l2"`
	BudgetL3        *int     `yaml:"budget_l3"`
	BudgetL4        *int     `yaml:"budget_l4"`
	BudgetTotal     *int     `yaml:"budget_total"`
	SafetyEnabled   *bool    `yaml:"safety_enabled"`
	IsolationStrict *bool    `yaml:"isolation_strict_mode"`
}

// Resolver is the C4 Project Resolver.
type Resolver struct {
	// GlobalConfigPath is the fallback config file, e.g. ~/.memoryanchor/config.yaml.
	GlobalConfigPath string
	// ProjectConfigFileName is the file looked up inside a project's
	// working directory (e.g. ".memoryanchor.yaml"); LocalConfigDir, if
	// set, is where that lookup happens.
	ProjectConfigFileName string
	LocalConfigDir        string
	// EnvProjectID, if non-empty, wins the project id precedence chain
	// outright.
	EnvProjectID string

	cache *lru.Cache[string, EffectiveConfig]
}

// New constructs a Resolver with a bounded effective-config cache of
// cacheSize entries.
func New(cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	c, err := lru.New[string, EffectiveConfig](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{cache: c}, nil
}

// ResolveProjectID applies the precedence chain: env override →
// project-local config file → global config file → literal default.
func (r *Resolver) ResolveProjectID() string {
	if r.EnvProjectID != "" {
		return r.EnvProjectID
	}
	if cfg, ok := r.readLocalFile(); ok && cfg.id != "" {
		return cfg.id
	}
	if cfg, ok := r.readGlobalFile(); ok && cfg.id != "" {
		return cfg.id
	}
	return DefaultProjectID
}

// CollectionName returns the stable collection-name mapping for id.
func CollectionName(projectID string) string {
	return CollectionPrefix + projectID
}

// Resolve returns id's effective configuration, using the cache when
// present. A project id never fails to resolve: an unknown project
// lazily gets baseline defaults and its own (empty) collection.
func (r *Resolver) Resolve(projectID string) EffectiveConfig {
	if cfg, ok := r.cache.Get(projectID); ok {
		return cfg
	}

	cfg := baseline(projectID)

	// Precedence: higher-precedence file fully shadows lower — no
	// merge. A project-local file, if present and valid, is used
	// whole; otherwise the global file; otherwise baseline defaults.
	if raw, ok := r.loadLocal(); ok {
		applyFile(&cfg, raw)
	} else if raw, ok := r.loadGlobal(); ok {
		applyFile(&cfg, raw)
	}

	r.cache.Add(projectID, cfg)
	return cfg
}

// Invalidate drops a cached entry, e.g. after a config file changes.
func (r *Resolver) Invalidate(projectID string) {
	r.cache.Remove(projectID)
}

func baseline(projectID string) EffectiveConfig {
	return EffectiveConfig{
		ProjectID:       projectID,
		EmbedderModel:   "hash-embedder-v1",
		VectorDim:       384,
		MinSearchScore:  0.3,
		SessionExpire:   24,
		ConfidenceAuto:  0.9,
		ConfidencePend:  0.7,
		ApprovalsNeeded: 3,
		BudgetL0:        500,
		BudgetL1:        200,
		BudgetL2:        500,
		BudgetL3:        2000,
		BudgetL4:        300,
		BudgetTotal:     4000,
		SafetyEnabled:   true,
		IsolationStrict: false,
	}
}

func applyFile(cfg *EffectiveConfig, raw fileConfig) {
	if raw.EmbedderModel != "" {
		cfg.EmbedderModel = raw.EmbedderModel
	}
	if raw.VectorDim != 0 {
		cfg.VectorDim = raw.VectorDim
	}
	if raw.MinSearchScore != nil {
		cfg.MinSearchScore = *raw.MinSearchScore
	}
	if raw.SessionExpire != nil {
		cfg.SessionExpire = *raw.SessionExpire
	}
	if raw.ConfidenceAuto != nil {
		cfg.ConfidenceAuto = *raw.ConfidenceAuto
	}
	if raw.ConfidencePend != nil {
		cfg.ConfidencePend = *raw.ConfidencePend
	}
	if raw.BudgetL0 != nil {
		cfg.BudgetL0 = *raw.BudgetL0
	}
	if raw.BudgetL1 != nil {
		cfg.BudgetL1 = *raw.BudgetL1
	}
	if raw.BudgetL2 != nil {
		cfg.BudgetL2 = *raw.BudgetL2
	}
	if raw.BudgetL3 != nil {
		cfg.BudgetL3 = *raw.BudgetL3
	}
	if raw.BudgetL4 != nil {
		cfg.BudgetL4 = *raw.BudgetL4
	}
	if raw.BudgetTotal != nil {
		cfg.BudgetTotal = *raw.BudgetTotal
	}
	if raw.SafetyEnabled != nil {
		cfg.SafetyEnabled = *raw.SafetyEnabled
	}
	if raw.IsolationStrict != nil {
		cfg.IsolationStrict = *raw.IsolationStrict
	}
}

func (r *Resolver) loadLocal() (fileConfig, bool) {
	if r.LocalConfigDir == "" || r.ProjectConfigFileName == "" {
		return fileConfig{}, false
	}
	return loadYAMLFile(filepath.Join(r.LocalConfigDir, r.ProjectConfigFileName))
}

func (r *Resolver) loadGlobal() (fileConfig, bool) {
	if r.GlobalConfigPath == "" {
		return fileConfig{}, false
	}
	return loadYAMLFile(r.GlobalConfigPath)
}

type idCarrier struct {
	id string
}

func (r *Resolver) readLocalFile() (idCarrier, bool) {
	if r.LocalConfigDir == "" || r.ProjectConfigFileName == "" {
		return idCarrier{}, false
	}
	return readProjectID(filepath.Join(r.LocalConfigDir, r.ProjectConfigFileName))
}

func (r *Resolver) readGlobalFile() (idCarrier, bool) {
	if r.GlobalConfigPath == "" {
		return idCarrier{}, false
	}
	return readProjectID(r.GlobalConfigPath)
}

func readProjectID(path string) (idCarrier, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return idCarrier{}, false
	}
	var raw struct {
		ProjectID string `yaml:"project_id"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return idCarrier{}, false
	}
	return idCarrier{id: raw.ProjectID}, raw.ProjectID != ""
}

func loadYAMLFile(path string) (fileConfig, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, false
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, false
	}
	return cfg, true
}
