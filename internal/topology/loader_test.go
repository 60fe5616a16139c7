package topology

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/logging"
)

func TestLoadCatalogAbilene(t *testing.T) {
	g, err := Load(Config{
		Source:       SourceCatalog,
		CatalogID:    "abilene",
		LinkUtilKey:  "deg",
		SwitchConfig: map[string]string{"stp": "true"},
		LinkConfig:   map[string]string{"delay": "5ms"},
	}, logging.Discard())
	require.NoError(t, err)

	require.Len(t, g.Switches(), 11)
	require.Len(t, g.SwitchLinks(), 14)

	for id, degree := range map[string]int{
		"ATLA": 3, "CHIN": 2, "IPLS": 3, "KSCY": 3, "STTL": 2,
	} {
		n, ok := g.Node(id)
		require.True(t, ok, id)
		require.Equal(t, degree, n.Degree, id)
		require.Equal(t, "true", n.Config["stp"])
	}

	views := g.SwitchViews()
	require.Equal(t, "ATLA", views[0].ID)

	first := g.SwitchLinks()[0]
	require.Equal(t, "ATLA", first.Src)
	require.Equal(t, "HSTN", first.Dst)
	require.Equal(t, 24.1, first.FwdUtil)
	require.Equal(t, 22.8, first.BwdUtil)
	require.Equal(t, "5ms", first.Config["delay"])
}

func TestDegreesStayFrozenAfterHostsAttach(t *testing.T) {
	g, err := Load(Config{Source: SourceCatalog, CatalogID: "diamond", LinkUtilKey: "deg"}, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, g.AddHost("h1", "s2", nil))
	require.NoError(t, g.AddHost("h2", "s2", nil))

	n, ok := g.Node("s2")
	require.True(t, ok)
	require.Equal(t, 3, n.Degree)

	for _, v := range g.SwitchViews() {
		if v.ID == "s2" {
			require.Equal(t, 3, v.Degree)
		}
	}
}

func writeTopologyFile(t *testing.T, links []LinkDesc) string {
	t.Helper()
	df := &DescriptorFile{Topologies: []Descriptor{{
		Name:     "scratch",
		Switches: []string{"s1", "s2"},
		Links:    links,
	}}}
	dir := t.TempDir()
	require.NoError(t, df.WriteDescriptorFile(dir, "topo.yaml"))
	return filepath.Join(dir, "topo.yaml")
}

func TestLoadFileMissingUtilKeyWarnsAndZeroes(t *testing.T) {
	path := writeTopologyFile(t, []LinkDesc{
		{Src: "s1", Dst: "s2", Attrs: map[string]float64{"bw": 5}},
	})

	core, logs := observer.New(zapcore.WarnLevel)
	g, err := Load(Config{
		Source:      SourceFile,
		FilePath:    path,
		FileName:    "scratch",
		LinkUtilKey: "util",
	}, zap.New(core).Sugar())
	require.NoError(t, err)

	l := g.SwitchLinks()[0]
	require.Zero(t, l.FwdUtil)
	require.Zero(t, l.BwdUtil)
	require.Equal(t, 1, logs.FilterMessageSnippet("assuming zero utilization").Len())
}

func TestLoadFilePerDirectionAttrsOverrideShared(t *testing.T) {
	path := writeTopologyFile(t, []LinkDesc{
		{
			Src: "s1", Dst: "s2",
			Attrs:    map[string]float64{"util": 8},
			FwdAttrs: map[string]float64{"util": 3},
		},
	})

	g, err := Load(Config{
		Source:      SourceFile,
		FilePath:    path,
		FileName:    "scratch",
		LinkUtilKey: "util",
	}, logging.Discard())
	require.NoError(t, err)

	l := g.SwitchLinks()[0]
	require.Equal(t, 3.0, l.FwdUtil)
	require.Equal(t, 8.0, l.BwdUtil)
}

func TestLoadFileNegativeUtilClampsToZero(t *testing.T) {
	path := writeTopologyFile(t, []LinkDesc{
		{Src: "s1", Dst: "s2", Attrs: map[string]float64{"util": -5}},
	})

	core, logs := observer.New(zapcore.WarnLevel)
	g, err := Load(Config{
		Source:      SourceFile,
		FilePath:    path,
		FileName:    "scratch",
		LinkUtilKey: "util",
	}, zap.New(core).Sugar())
	require.NoError(t, err)

	l := g.SwitchLinks()[0]
	require.Zero(t, l.FwdUtil)
	require.Zero(t, l.BwdUtil)
	require.Equal(t, 1, logs.FilterMessageSnippet("clamping to zero").Len())
}

func TestLoadRegistrySource(t *testing.T) {
	require.NoError(t, RegisterConstructor("loader-test-pair", func() (*Descriptor, error) {
		return &Descriptor{
			Name:     "pair",
			Switches: []string{"a", "b"},
			Links:    []LinkDesc{{Src: "a", Dst: "b", Attrs: map[string]float64{"util": 2}}},
		}, nil
	}))

	g, err := Load(Config{
		Source:      SourceRegistry,
		Constructor: "loader-test-pair",
		LinkUtilKey: "util",
	}, logging.Discard())
	require.NoError(t, err)
	require.Len(t, g.Switches(), 2)
	require.Equal(t, 2.0, g.SwitchLinks()[0].FwdUtil)
}

func TestLoadRejectsBadSources(t *testing.T) {
	for name, cfg := range map[string]Config{
		"unknown source":      {Source: "dns"},
		"unknown catalog id":  {Source: SourceCatalog, CatalogID: "starfish"},
		"missing file":        {Source: SourceFile, FilePath: "/nonexistent/topo.yaml"},
		"missing constructor": {Source: SourceRegistry, Constructor: "never-registered"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(cfg, logging.Discard())
			require.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}
}

func TestLoadRejectsMissingTopologyName(t *testing.T) {
	path := writeTopologyFile(t, nil)
	_, err := Load(Config{
		Source:      SourceFile,
		FilePath:    path,
		FileName:    "no-such-topo",
		LinkUtilKey: "util",
	}, logging.Discard())
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestCatalogIsSorted(t *testing.T) {
	require.Equal(t, []string{"abilene", "diamond", "triangle"}, Catalog())
}
