// Package configstore resolves per-trik secrets from a layered store: a
// project-local secrets file overrides the user-global one. Skill code only
// ever sees a context filtered to the keys its manifest declares; an
// undeclared key is not found even when the file contains it.
package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// SecretsFileName is the name of the secrets file in a .trikhub directory.
const SecretsFileName = "secrets.json"

// secretsFile maps trik id to key/value pairs.
type secretsFile map[string]map[string]string

// Store is the layered secret store. Load before use; Reload on demand.
type Store struct {
	mu sync.RWMutex

	// projectPath and globalPath locate the two layers. Either may be empty.
	projectPath string
	globalPath  string

	project secretsFile
	global  secretsFile
	loaded  bool
}

// Options locates the store's layers.
type Options struct {
	// ProjectDir is the project root holding .trikhub/secrets.json.
	ProjectDir string
	// GlobalDir overrides the user-global directory (defaults to ~/.trikhub).
	GlobalDir string
}

// NewStore creates a store for the given layers. Missing files are treated
// as empty layers.
func NewStore(opts Options) *Store {
	s := &Store{}
	if opts.ProjectDir != "" {
		s.projectPath = filepath.Join(opts.ProjectDir, ".trikhub", SecretsFileName)
	}
	globalDir := opts.GlobalDir
	if globalDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			globalDir = filepath.Join(home, ".trikhub")
		}
	}
	if globalDir != "" {
		s.globalPath = filepath.Join(globalDir, SecretsFileName)
	}
	return s
}

// Load reads both layers. Safe to call more than once; later calls reload.
func (s *Store) Load() error {
	project, err := readSecretsFile(s.projectPath)
	if err != nil {
		return err
	}
	global, err := readSecretsFile(s.globalPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = project
	s.global = global
	s.loaded = true
	return nil
}

// Reload re-reads both layers.
func (s *Store) Reload() error { return s.Load() }

func readSecretsFile(path string) (secretsFile, error) {
	if path == "" {
		return secretsFile{}, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, ErrConfigStore.Msg("cannot read secrets file: " + err.Error())
	}
	var parsed secretsFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, ErrConfigStore.Msg("cannot parse secrets file " + path + ": " + err.Error())
	}
	return parsed, nil
}

// lookup resolves a key for a trik: project layer first, then global.
func (s *Store) lookup(trikID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		log.Warn().Str("trik", trikID).Msg("config store used before Load")
	}
	if values, ok := s.project[trikID]; ok {
		if v, ok := values[key]; ok {
			return v, true
		}
	}
	if values, ok := s.global[trikID]; ok {
		if v, ok := values[key]; ok {
			return v, true
		}
	}
	return "", false
}

// ForTrik builds the config context a skill invocation receives. Only keys
// the manifest declares are visible; declared defaults fill missing values.
func (s *Store) ForTrik(m *manifest.Manifest) api.ConfigContext {
	declared := m.DeclaredConfigKeys()
	allowed := make(map[string]string, len(declared)) // key -> default
	for _, req := range declared {
		allowed[req.Key] = req.Default
	}
	return &trikConfigContext{
		store:   s,
		trikID:  m.ID,
		allowed: allowed,
	}
}

// MissingRequired reports the required keys with no configured value and no
// default, for surfacing at load time.
func (s *Store) MissingRequired(m *manifest.Manifest) []string {
	if m.Config == nil {
		return nil
	}
	var missing []string
	for _, req := range m.Config.Required {
		if _, ok := s.lookup(m.ID, req.Key); !ok && req.Default == "" {
			missing = append(missing, req.Key)
		}
	}
	return missing
}

// trikConfigContext is the filtered per-trik view handed to skill code.
type trikConfigContext struct {
	store   *Store
	trikID  string
	allowed map[string]string
}

func (c *trikConfigContext) Get(key string) (string, bool) {
	def, declared := c.allowed[key]
	if !declared {
		return "", false
	}
	if v, ok := c.store.lookup(c.trikID, key); ok {
		return v, true
	}
	if def != "" {
		return def, true
	}
	return "", false
}

func (c *trikConfigContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *trikConfigContext) Keys() []string {
	keys := make([]string, 0, len(c.allowed))
	for key := range c.allowed {
		if c.Has(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Values materialises the visible key/value pairs, used when shipping config
// to a worker subprocess.
func Values(ctx api.ConfigContext) map[string]string {
	if ctx == nil {
		return nil
	}
	values := make(map[string]string)
	for _, key := range ctx.Keys() {
		if v, ok := ctx.Get(key); ok {
			values[key] = v
		}
	}
	return values
}

var _ api.ConfigContext = (*trikConfigContext)(nil)
