package topology

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

// Descriptor is the raw, pre-processing form of a topology: switch ids and
// links with named per-direction attributes. Utilization keys (deg, uni,
// org for catalog entries, user-defined otherwise) are looked up in the
// attribute maps during processing.
type Descriptor struct {
	Name     string     `yaml:"name"`
	Switches []string   `yaml:"switches"`
	Links    []LinkDesc `yaml:"links"`
}

type LinkDesc struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
	// Attrs applies to both directions unless a per-direction map
	// overrides it.
	Attrs    map[string]float64 `yaml:"attrs,omitempty"`
	FwdAttrs map[string]float64 `yaml:"fwd_attrs,omitempty"`
	BwdAttrs map[string]float64 `yaml:"bwd_attrs,omitempty"`
}

// DescriptorFile holds one or more named topologies; the loader selects by
// name.
type DescriptorFile struct {
	Topologies []Descriptor `yaml:"topologies"`
}

// ReadDescriptorFile unmarshals a descriptor file back into its in-memory
// representation. Unknown keys are rejected.
func ReadDescriptorFile(path string) (*DescriptorFile, error) {
	fileHandler, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening topology file %s: %v", errdefs.ErrConfiguration, path, err)
	}
	defer fileHandler.Close()

	b, err := io.ReadAll(fileHandler)
	if err != nil {
		return nil, fmt.Errorf("error reading topology file: %w", err)
	}

	df := DescriptorFile{}
	if err := yaml.UnmarshalStrict(b, &df); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling topology file %s: %v", errdefs.ErrConfiguration, path, err)
	}
	return &df, nil
}

// WriteDescriptorFile marshals the descriptors to yaml on disk, so a
// processed or generated topology can be fed back in later runs.
func (df *DescriptorFile) WriteDescriptorFile(dir, name string) error {
	b, err := yaml.Marshal(df)
	if err != nil {
		return fmt.Errorf("error marshaling topology file: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name), b, 0644)
}

func (df *DescriptorFile) Find(name string) (*Descriptor, bool) {
	for i := range df.Topologies {
		if df.Topologies[i].Name == name {
			return &df.Topologies[i], true
		}
	}
	return nil, false
}

// Constructor builds a descriptor programmatically. Registered constructors
// are the third topology source next to the catalog and descriptor files.
type Constructor func() (*Descriptor, error)

var (
	constructorMu sync.Mutex
	constructors  = make(map[string]Constructor)
)

// RegisterConstructor makes a programmatic topology available under the
// given name. Registering the same name twice is rejected.
func RegisterConstructor(name string, fn Constructor) error {
	constructorMu.Lock()
	defer constructorMu.Unlock()
	if _, ok := constructors[name]; ok {
		return fmt.Errorf("topology constructor %q already registered", name)
	}
	constructors[name] = fn
	return nil
}

func lookupConstructor(name string) (Constructor, bool) {
	constructorMu.Lock()
	defer constructorMu.Unlock()
	fn, ok := constructors[name]
	return fn, ok
}
