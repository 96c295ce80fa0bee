package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ProviderSuffix is the file name suffix of provider executables.
const ProviderSuffix = ".prov"

// Registry knows the provider executables found in a list of directories.
// A provider's type name is its file name without the suffix; when two
// directories contain the same name, the earlier directory wins.
type Registry struct {
	dirs  []string
	paths map[string]string
}

// NewRegistry creates a registry searching dirs in order.
func NewRegistry(dirs ...string) *Registry {
	return &Registry{dirs: dirs, paths: make(map[string]string)}
}

// Scan finds all providers. Directories that do not exist are skipped.
func (r *Registry) Scan() error {
	paths := make(map[string]string)
	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read provider directory %s: %w", dir, err)
		}
		for _, e := range entries {
			name, ok := strings.CutSuffix(e.Name(), ProviderSuffix)
			if !ok || name == "" || e.IsDir() {
				continue
			}
			if _, seen := paths[name]; seen {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return fmt.Errorf("failed to stat provider %s: %w", e.Name(), err)
			}
			if info.Mode()&0o111 == 0 {
				continue
			}
			paths[name] = filepath.Join(dir, e.Name())
		}
	}
	r.paths = paths
	return nil
}

// Types returns the names of all providers in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.paths))
	for n := range r.paths {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Path returns the executable of the provider name.
func (r *Registry) Path(name string) (string, error) {
	if p, ok := r.paths[name]; ok {
		return p, nil
	}
	if s := r.Suggest(name); s != "" {
		return "", fmt.Errorf("unknown type %s, did you mean %s?", name, s)
	}
	return "", fmt.Errorf("unknown type %s", name)
}

// Suggest returns the known type closest to name, or "" if none is within
// three edits.
func (r *Registry) Suggest(name string) string {
	best, bestDistance := "", 4
	for _, n := range r.Types() {
		if d := levenshtein.ComputeDistance(name, n); d < bestDistance {
			best, bestDistance = n, d
		}
	}
	return best
}

// Open returns a handle for the provider name run by runner.
func (r *Registry) Open(runner *Runner, name string) (*Provider, error) {
	path, err := r.Path(name)
	if err != nil {
		return nil, err
	}
	return runner.Provider(name, path), nil
}
