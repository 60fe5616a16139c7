package topology

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

// Topology sources.
const (
	SourceCatalog  = "catalog"
	SourceFile     = "file"
	SourceRegistry = "registry"
)

// Config selects and parameterizes a topology source.
type Config struct {
	Source      string `yaml:"source"`
	CatalogID   string `yaml:"catalog_id,omitempty"`
	FilePath    string `yaml:"file_path,omitempty"`
	FileName    string `yaml:"file_name,omitempty"`
	Constructor string `yaml:"constructor,omitempty"`

	// LinkUtilKey names the link attribute read as utilization.
	// Catalog entries define deg, uni and (mostly) org.
	LinkUtilKey string `yaml:"link_util_key"`

	// SwitchConfig is attached verbatim to every switch node and handed
	// to the emulation runtime at host creation.
	SwitchConfig map[string]string `yaml:"switch_config,omitempty"`
	// LinkConfig is attached verbatim to every switch-switch link.
	LinkConfig map[string]string `yaml:"link_config,omitempty"`
}

// Load resolves the descriptor, builds the graph and derives link
// utilization. Links whose attributes lack the configured key get zero
// utilization and a warning; they carry no background traffic.
func Load(cfg Config, log *zap.SugaredLogger) (*Graph, error) {
	desc, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	return build(desc, cfg, log)
}

func resolve(cfg Config) (*Descriptor, error) {
	switch cfg.Source {
	case SourceCatalog:
		d, ok := catalogEntry(cfg.CatalogID)
		if !ok {
			return nil, fmt.Errorf("%w: no catalog topology %q (have %v)", errdefs.ErrConfiguration, cfg.CatalogID, Catalog())
		}
		return d, nil
	case SourceFile:
		df, err := ReadDescriptorFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		d, ok := df.Find(cfg.FileName)
		if !ok {
			return nil, fmt.Errorf("%w: topology %q not found in %s", errdefs.ErrConfiguration, cfg.FileName, cfg.FilePath)
		}
		return d, nil
	case SourceRegistry:
		fn, ok := lookupConstructor(cfg.Constructor)
		if !ok {
			return nil, fmt.Errorf("%w: no registered topology constructor %q", errdefs.ErrConfiguration, cfg.Constructor)
		}
		return fn()
	default:
		return nil, fmt.Errorf("%w: unknown topology source %q", errdefs.ErrConfiguration, cfg.Source)
	}
}

func build(desc *Descriptor, cfg Config, log *zap.SugaredLogger) (*Graph, error) {
	if len(desc.Switches) == 0 {
		return nil, fmt.Errorf("%w: topology %q has no switches", errdefs.ErrConfiguration, desc.Name)
	}

	g := NewGraph()
	for _, id := range desc.Switches {
		if err := g.AddSwitch(id); err != nil {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrConfiguration, err)
		}
		if n, ok := g.Node(id); ok {
			n.Config = cfg.SwitchConfig
		}
	}

	for _, ld := range desc.Links {
		fwd, bwd := linkUtil(ld, cfg.LinkUtilKey, desc.Name, log)
		l := &Link{
			Src:     ld.Src,
			Dst:     ld.Dst,
			FwdUtil: fwd,
			BwdUtil: bwd,
			Config:  cfg.LinkConfig,
		}
		if err := g.Connect(l); err != nil {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrConfiguration, err)
		}
	}

	g.freezeDegrees()
	return g, nil
}

// linkUtil reads the configured utilization key, preferring per-direction
// attributes over the shared map.
func linkUtil(ld LinkDesc, key, topo string, log *zap.SugaredLogger) (float64, float64) {
	lookup := func(dir map[string]float64) (float64, bool) {
		if v, ok := dir[key]; ok {
			return v, true
		}
		v, ok := ld.Attrs[key]
		return v, ok
	}

	fwd, fok := lookup(ld.FwdAttrs)
	bwd, bok := lookup(ld.BwdAttrs)
	if !fok || !bok {
		log.Warnf("topology %s: link %s-%s has no %q attribute, assuming zero utilization", topo, ld.Src, ld.Dst, key)
	}
	if fwd < 0 || bwd < 0 {
		log.Warnf("topology %s: link %s-%s has negative %q utilization, clamping to zero", topo, ld.Src, ld.Dst, key)
	}
	return max(fwd, 0), max(bwd, 0)
}
