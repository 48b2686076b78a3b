// Package inprocrunner executes host-runtime triks without a subprocess.
// Go cannot load modules at runtime, so entry resolution goes through a
// process-level registry: trik packages register their graph under the
// module/export pair their manifest declares, and the runner looks the graph
// up at dispatch time. Storage, config, and session contexts are injected
// exactly as they are for subprocess triks.
package inprocrunner

import (
	"sync"

	"github.com/Molefas/trikhub/pkg/api"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]api.Graph)
)

func registryKey(module, export string) string {
	return module + "#" + export
}

// Register binds a graph to the module/export pair a manifest's entry
// declares. Later registrations replace earlier ones.
func Register(module, export string, graph api.Graph) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey(module, export)] = graph
}

// Unregister removes a registered graph.
func Unregister(module, export string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, registryKey(module, export))
}

// Resolve looks up the graph for a module/export pair.
func Resolve(module, export string) (api.Graph, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	graph, ok := registry[registryKey(module, export)]
	return graph, ok
}
