// Package gateway implements the trik gateway core: it loads signed-off
// manifests, registers the tool surface, dispatches invocations to the
// in-process runner or a subprocess worker, validates every result against
// the declared schemas, and splits responses into the agent-visible channel
// and the opaque user-only channel. Passthrough content never crosses the
// agent boundary; only receipt references do.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/common/apperrors"
	"github.com/Molefas/trikhub/internal/common/jsruntime"
	"github.com/Molefas/trikhub/internal/gateway/configstore"
	"github.com/Molefas/trikhub/internal/gateway/contentstore"
	"github.com/Molefas/trikhub/internal/gateway/runners"
	"github.com/Molefas/trikhub/internal/gateway/runners/inprocrunner"
	"github.com/Molefas/trikhub/internal/gateway/runners/workerrunner"
	"github.com/Molefas/trikhub/internal/gateway/sessionstore"
	"github.com/Molefas/trikhub/internal/gateway/storage"
	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// Config configures a Gateway instance.
type Config struct {
	// AllowedTriks restricts loadable trik ids. Empty means no restriction.
	AllowedTriks []string

	// ConfigStore resolves per-trik secrets. A store over the default layers
	// is created when nil.
	ConfigStore *configstore.Store

	// StorageProvider backs per-trik storage. Defaults to the in-memory
	// provider.
	StorageProvider storage.Provider

	// ContentTTL bounds unredeemed passthrough payloads.
	ContentTTL time.Duration

	// Workers overrides the worker command per foreign runtime.
	Workers map[manifest.Runtime]workerrunner.Config

	// OnClarificationNeeded is invoked when a trik asks for clarification.
	OnClarificationNeeded func(trikID string, questions []api.ClarificationQuestion)
}

// loadedTrik is the gateway's record of one loaded manifest.
type loadedTrik struct {
	manifest    *manifest.Manifest
	path        string
	fingerprint string
	runtime     manifest.Runtime
	graph       api.Graph // nil for foreign runtimes
	transforms  map[string]*jsruntime.JSFunction
}

// Gateway owns manifests, workers, storage, and sessions, and exposes the
// tool surface. A gateway instance owns at most one worker per foreign
// runtime; callers that want sharing take the gateway by reference.
type Gateway struct {
	config Config

	mu    sync.RWMutex
	triks map[string]*loadedTrik

	workerMu sync.Mutex
	workers  map[manifest.Runtime]*workerrunner.Worker

	validator *manifest.SchemaValidator
	sessions  *sessionstore.Store
	contents  *contentstore.Store
	configs   *configstore.Store
	storage   storage.Provider
	inproc    *inprocrunner.Runner
}

// New creates a gateway. When the caller supplies no config store, a default
// store is created and loaded here.
func New(config Config) *Gateway {
	configs := config.ConfigStore
	if configs == nil {
		configs = configstore.NewStore(configstore.Options{})
		if err := configs.Load(); err != nil {
			log.Warn().Err(err).Msg("config store load failed; continuing with empty store")
		}
	}
	provider := config.StorageProvider
	if provider == nil {
		provider = storage.NewMemoryProvider()
	}
	return &Gateway{
		config:    config,
		triks:     make(map[string]*loadedTrik),
		workers:   make(map[manifest.Runtime]*workerrunner.Worker),
		validator: manifest.NewSchemaValidator(),
		sessions:  sessionstore.NewStore(),
		contents:  contentstore.NewStore(config.ContentTTL),
		configs:   configs,
		storage:   provider,
		inproc:    inprocrunner.New(),
	}
}

// StorageProvider exposes the backing storage provider, for hosts that need
// usage reporting or administration.
func (g *Gateway) StorageProvider() storage.Provider {
	return g.storage
}

// ConfigStore exposes the secret store, for hosts that reload secrets.
func (g *Gateway) ConfigStore() *configstore.Store {
	return g.configs
}

// readManifestFile reads and normalises the manifest document for a trik
// directory: manifest.json at the root, manifest.yaml as a fallback, or a
// package subdirectory beside a build-system file.
func readManifestFile(trikPath string) ([]byte, apperrors.Error) {
	candidates := []string{
		filepath.Join(trikPath, "manifest.json"),
		filepath.Join(trikPath, "manifest.yaml"),
	}

	// cross-runtime package layout: manifest inside the package subdirectory
	if fileExists(filepath.Join(trikPath, "pyproject.toml")) || fileExists(filepath.Join(trikPath, "setup.py")) {
		if entries, err := os.ReadDir(trikPath); err == nil {
			for _, entry := range entries {
				if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") && !strings.HasPrefix(entry.Name(), "_") {
					candidates = append(candidates, filepath.Join(trikPath, entry.Name(), "manifest.json"))
				}
			}
		}
	}

	for _, candidate := range candidates {
		raw, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		normalized, yerr := manifest.FromYAML(raw)
		if yerr != nil {
			return nil, ErrManifestInvalid.Msg(candidate + ": " + yerr.Error())
		}
		return normalized, nil
	}
	return nil, ErrManifestNotFound.Msg("no manifest in " + trikPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadTrik loads a trik from a directory. Loading the same manifest twice is
// a no-op; loading different content under an already-registered id is a
// duplicate error.
func (g *Gateway) LoadTrik(trikPath string) (*manifest.Manifest, apperrors.Error) {
	raw, rerr := readManifestFile(trikPath)
	if rerr != nil {
		return nil, rerr
	}

	m, issues := manifest.Parse(raw)
	if m == nil {
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			msgs = append(msgs, issue.String())
		}
		return nil, ErrManifestInvalid.Msg(strings.Join(msgs, "; "))
	}

	if len(g.config.AllowedTriks) > 0 {
		allowed := false
		for _, id := range g.config.AllowedTriks {
			if id == m.ID {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, ErrTrikNotAllowed.Msg(m.ID)
		}
	}

	fingerprint, ferr := manifest.Fingerprint(raw)
	if ferr != nil {
		return nil, ErrManifestInvalid.Msg("cannot fingerprint manifest: " + ferr.Error())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.triks[m.ID]; ok {
		if existing.fingerprint == fingerprint {
			return existing.manifest, nil
		}
		return nil, ErrDuplicateTrik.Msg(m.ID)
	}

	loaded := &loadedTrik{
		manifest:    m,
		path:        trikPath,
		fingerprint: fingerprint,
		runtime:     m.Entry.EffectiveRuntime(),
		transforms:  make(map[string]*jsruntime.JSFunction),
	}

	if loaded.runtime == manifest.HostRuntime {
		graph, ok := g.inproc.GraphFor(m)
		if !ok {
			return nil, ErrGraphNotRegistered.Msg(fmt.Sprintf("%s#%s", m.Entry.Module, m.Entry.Export))
		}
		loaded.graph = graph
	}

	for name, action := range m.Actions {
		if action.InputTransform == "" {
			continue
		}
		fn, terr := jsruntime.New(context.Background(), action.InputTransform)
		if terr != nil {
			return nil, ErrManifestInvalid.Msg("actions." + name + ".inputTransform: " + terr.Error())
		}
		loaded.transforms[name] = fn
	}

	if missing := g.configs.MissingRequired(m); len(missing) > 0 {
		log.Warn().Str("trik", m.ID).Strs("keys", missing).Msg("required config keys are not set")
	}

	g.triks[m.ID] = loaded
	log.Info().Str("trik", m.ID).Str("runtime", string(loaded.runtime)).Msg("trik loaded")
	return m, nil
}

// LoadTriksFromDirectory loads every trik under a directory, supporting the
// scoped layout directory/@scope/trik-name. Individual failures are logged
// and skipped.
func (g *Gateway) LoadTriksFromDirectory(dir string) ([]*manifest.Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var manifests []*manifest.Manifest
	tryLoad := func(trikPath string) {
		if !fileExists(filepath.Join(trikPath, "manifest.json")) && !fileExists(filepath.Join(trikPath, "manifest.yaml")) {
			return
		}
		m, lerr := g.LoadTrik(trikPath)
		if lerr != nil {
			log.Warn().Str("path", trikPath).Err(lerr).Msg("skipping trik")
			return
		}
		manifests = append(manifests, m)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		entryPath := filepath.Join(dir, entry.Name())
		if strings.HasPrefix(entry.Name(), "@") {
			scoped, serr := os.ReadDir(entryPath)
			if serr != nil {
				continue
			}
			for _, scopedEntry := range scoped {
				if scopedEntry.IsDir() {
					tryLoad(filepath.Join(entryPath, scopedEntry.Name()))
				}
			}
			continue
		}
		tryLoad(entryPath)
	}
	return manifests, nil
}

// trikhubConfig is the registry config file shape (.trikhub/config.json).
type trikhubConfig struct {
	Triks    []string          `json:"triks"`
	Versions map[string]string `json:"trikhub,omitempty"`
	Runtimes map[string]string `json:"runtimes,omitempty"`
}

// LoadFromConfigOptions locates the registry config file.
type LoadFromConfigOptions struct {
	ConfigPath string
	BaseDir    string
}

// LoadTriksFromConfig bulk-loads the installed skill packages a registry
// config file declares. Missing packages are logged and skipped.
func (g *Gateway) LoadTriksFromConfig(opts LoadFromConfigOptions) ([]*manifest.Manifest, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(cwd, ".trikhub", "config.json")
	}
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(configPath)
	}

	raw, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		log.Info().Str("path", configPath).Msg("no triks config file")
		return nil, nil
	}
	if err != nil {
		return nil, ErrConfigFile.Msg(err.Error())
	}

	var config trikhubConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, ErrConfigFile.Msg(configPath + ": " + err.Error())
	}

	var manifests []*manifest.Manifest
	for _, name := range config.Triks {
		trikPath := name
		if !fileExists(filepath.Join(trikPath, "manifest.json")) {
			trikPath = filepath.Join(baseDir, "triks", name)
		}
		m, lerr := g.LoadTrik(trikPath)
		if lerr != nil {
			log.Warn().Str("trik", name).Err(lerr).Msg("cannot load trik from config")
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// GetManifest returns the manifest for a loaded trik.
func (g *Gateway) GetManifest(trikID string) (*manifest.Manifest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	loaded, ok := g.triks[trikID]
	if !ok {
		return nil, false
	}
	return loaded.manifest, true
}

// LoadedTriks returns the ids of the loaded triks, sorted.
func (g *Gateway) LoadedTriks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.triks))
	for id := range g.triks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetToolDefinitions computes the tool surface: one entry per action of
// every loaded trik, named "{trikId}:{action}".
func (g *Gateway) GetToolDefinitions() []api.ToolDefinition {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var tools []api.ToolDefinition
	for id, loaded := range g.triks {
		for actionName, action := range loaded.manifest.Actions {
			description := action.Description
			if description == "" {
				description = fmt.Sprintf("Execute %s on %s", actionName, id)
			}
			tools = append(tools, api.ToolDefinition{
				Name:         id + ":" + actionName,
				Description:  description,
				InputSchema:  action.InputSchema,
				ResponseMode: action.ResponseMode,
			})
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ResolveTool splits a tool name into trik id and action name.
func ResolveTool(toolName string) (trikID, action string, ok bool) {
	idx := strings.LastIndex(toolName, ":")
	if idx <= 0 || idx == len(toolName)-1 {
		return "", "", false
	}
	return toolName[:idx], toolName[idx+1:], true
}

// DeliverContent redeems a passthrough receipt reference: the content is
// removed from the store and returned with a delivery receipt. Returns false
// when the reference is unknown, already delivered, or expired.
func (g *Gateway) DeliverContent(ref string) (*api.PassthroughContent, *api.DeliveryReceipt, bool) {
	content, ok := g.contents.Take(ref)
	if !ok {
		return nil, nil, false
	}
	receipt := &api.DeliveryReceipt{
		Delivered:   true,
		ContentType: content.ContentType,
		Metadata:    content.Metadata,
	}
	return &content, receipt, true
}

// HasContentRef reports whether a receipt reference is live.
func (g *Gateway) HasContentRef(ref string) bool {
	return g.contents.Has(ref)
}

// GetContentRefInfo returns content-free metadata for a live reference.
func (g *Gateway) GetContentRefInfo(ref string) (map[string]any, bool) {
	contentType, metadata, ok := g.contents.Peek(ref)
	if !ok {
		return nil, false
	}
	return map[string]any{
		"contentType": contentType,
		"metadata":    metadata,
	}, true
}

// workerFor returns the single worker owned for a runtime, creating it
// lazily. The subprocess itself spawns on first invocation.
func (g *Gateway) workerFor(runtime manifest.Runtime) (*workerrunner.Worker, apperrors.Error) {
	g.workerMu.Lock()
	defer g.workerMu.Unlock()

	if w, ok := g.workers[runtime]; ok {
		return w, nil
	}

	config, ok := g.config.Workers[runtime]
	if !ok {
		config = workerrunner.Config{
			Runtime: runtime,
			Command: workerrunner.DefaultCommand(runtime),
		}
	}
	normalized, err := config.Normalized()
	if err != nil {
		if apperr, isApp := err.(apperrors.Error); isApp {
			return nil, apperr
		}
		return nil, runners.ErrInvalidConfig.Err(err)
	}

	w := workerrunner.New(normalized)
	g.workers[runtime] = w
	return w, nil
}

// Shutdown stops workers, closes storage, and clears sessions and content.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.workerMu.Lock()
	workers := make([]*workerrunner.Worker, 0, len(g.workers))
	for _, w := range g.workers {
		workers = append(workers, w)
	}
	g.workers = make(map[manifest.Runtime]*workerrunner.Worker)
	g.workerMu.Unlock()

	for _, w := range workers {
		w.Shutdown(ctx)
	}

	if err := g.storage.Close(); err != nil {
		log.Warn().Err(err).Msg("storage close failed")
	}
	g.sessions.Clear()
	g.contents.Clear()
}
