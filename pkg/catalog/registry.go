package catalog

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Registry pairs the immutable catalog with the mutable per-provider
// key pools. Key pools are snapshots: ReloadKeys swaps them atomically
// and never interrupts in-flight calls, which hold their key by value.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	index     map[string]int
	keys      map[string][]string

	keysFile string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewRegistry builds a registry over the given catalog and loads key
// pools immediately. keysFile is optional; when non-empty it is read as
// a dotenv-style file whose entries supplement the process environment.
func NewRegistry(providers []Provider, keysFile string) (*Registry, error) {
	r := &Registry{
		providers: providers,
		index:     make(map[string]int, len(providers)),
		keysFile:  keysFile,
		logger:    slog.Default().With("component", "catalog.registry"),
	}
	for i, p := range providers {
		if _, dup := r.index[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q in catalog", p.ID)
		}
		r.index[p.ID] = i
	}
	if err := r.ReloadKeys(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the provider record for id.
func (r *Registry) Get(id string) (Provider, error) {
	i, ok := r.index[id]
	if !ok {
		return Provider{}, &ErrUnknownProvider{ID: id}
	}
	return r.providers[i], nil
}

// ListEnabled returns providers with a non-empty key pool, in catalog
// order. A provider with zero keys is disabled, not an error.
func (r *Registry) ListEnabled() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if len(r.keys[p.ID]) > 0 {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// EnabledByTiers returns the enabled providers whose cost class is in
// tiers, in catalog order.
func (r *Registry) EnabledByTiers(tiers []Tier) []Provider {
	want := make(map[Tier]bool, len(tiers))
	for _, t := range tiers {
		want[t] = true
	}
	var out []Provider
	for _, p := range r.ListEnabled() {
		if want[p.Tier] {
			out = append(out, p)
		}
	}
	return out
}

// Keys returns a copy of the current key pool for a provider.
func (r *Registry) Keys(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool := r.keys[id]
	out := make([]string, len(pool))
	copy(out, pool)
	return out
}

// ReloadKeys re-reads every provider's key pool from the environment
// and the optional keys file. Providers whose pool becomes empty are
// disabled on the next ListEnabled call; calls already holding a key
// are unaffected.
func (r *Registry) ReloadKeys() error {
	env := envSnapshot()
	if r.keysFile != "" {
		fileEnv, err := readKeysFile(r.keysFile)
		if err != nil {
			return err
		}
		// File entries override the process environment.
		for k, v := range fileEnv {
			env[k] = v
		}
	}

	fresh := make(map[string][]string, len(r.providers))
	for _, p := range r.providers {
		fresh[p.ID] = keysFromEnv(env, p.EnvPrefix)
	}

	r.mu.Lock()
	r.keys = fresh
	r.mu.Unlock()

	enabled := 0
	for _, pool := range fresh {
		if len(pool) > 0 {
			enabled++
		}
	}
	r.logger.Info("provider key pools loaded",
		"providers", len(r.providers),
		"enabled", enabled,
	)
	return nil
}

// WatchKeys watches the keys file and reloads pools on change. It is a
// no-op without a keys file. Close releases the watcher.
func (r *Registry) WatchKeys() error {
	if r.keysFile == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating keys watcher: %w", err)
	}
	if err := watcher.Add(r.keysFile); err != nil {
		watcher.Close()
		return fmt.Errorf("watching keys file %q: %w", r.keysFile, err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.ReloadKeys(); err != nil {
					r.logger.Error("keys reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("keys watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the keys watcher if one is running.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// keysFromEnv collects the key pool for one provider prefix. Both the
// underscored (PREFIX_API_KEY_2) and bare (PREFIX_API_KEY2) numbering
// spellings are recognized, along with the unnumbered PREFIX_API_KEY.
// Empty values are ignored and duplicates collapsed, preserving the
// numeric order so rotation is stable across restarts.
func keysFromEnv(env map[string]string, prefix string) []string {
	type numbered struct {
		n   int
		key string
	}
	var found []numbered
	seen := make(map[string]bool)

	add := func(n int, val string) {
		val = strings.TrimSpace(val)
		if val == "" || seen[val] {
			return
		}
		seen[val] = true
		found = append(found, numbered{n: n, key: val})
	}

	if val, ok := env[prefix+"_API_KEY"]; ok {
		add(0, val)
	}
	for n := 1; n <= maxKeysPerProvider; n++ {
		if val, ok := env[fmt.Sprintf("%s_API_KEY_%d", prefix, n)]; ok {
			add(n, val)
		}
		if val, ok := env[fmt.Sprintf("%s_API_KEY%d", prefix, n)]; ok {
			add(n, val)
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })
	keys := make([]string, len(found))
	for i, f := range found {
		keys[i] = f.key
	}
	return keys
}

// maxKeysPerProvider bounds the numbered-variable scan.
const maxKeysPerProvider = 32

func envSnapshot() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		if k, v, ok := strings.Cut(entry, "="); ok {
			env[k] = v
		}
	}
	return env
}

// readKeysFile parses a dotenv-style file: KEY=value lines, # comments,
// optional surrounding quotes on values.
func readKeysFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keys file %q: %w", path, err)
	}
	defer f.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		v = strings.Trim(v, `"'`)
		env[strings.TrimSpace(k)] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading keys file %q: %w", path, err)
	}
	return env, nil
}
