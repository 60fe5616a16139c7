package topology

import "sort"

// Built-in topology descriptors. Link attributes carry estimated
// utilization in Mbps under three traffic models: "deg" (degree-weighted
// gravity), "uni" (uniform all-to-all) and "org" (published traffic
// matrix where one exists). Values are per direction.

var catalog = map[string]*Descriptor{
	"abilene": abilene(),
	"diamond": diamond(),
	"triangle": {
		Name:     "triangle",
		Switches: []string{"s1", "s2", "s3"},
		Links: []LinkDesc{
			{Src: "s1", Dst: "s2", FwdAttrs: map[string]float64{"deg": 18, "uni": 12}, BwdAttrs: map[string]float64{"deg": 16, "uni": 12}},
			{Src: "s2", Dst: "s3", FwdAttrs: map[string]float64{"deg": 14, "uni": 12}, BwdAttrs: map[string]float64{"deg": 15, "uni": 12}},
			{Src: "s1", Dst: "s3", FwdAttrs: map[string]float64{"deg": 11, "uni": 12}, BwdAttrs: map[string]float64{"deg": 12, "uni": 12}},
		},
	},
}

// Catalog lists the built-in topology ids, sorted.
func Catalog() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func catalogEntry(id string) (*Descriptor, bool) {
	d, ok := catalog[id]
	return d, ok
}

// The Internet2 Abilene backbone, 11 PoPs and 14 links.
func abilene() *Descriptor {
	link := func(src, dst string, fd, fu, fo, bd, bu, bo float64) LinkDesc {
		return LinkDesc{
			Src: src, Dst: dst,
			FwdAttrs: map[string]float64{"deg": fd, "uni": fu, "org": fo},
			BwdAttrs: map[string]float64{"deg": bd, "uni": bu, "org": bo},
		}
	}
	return &Descriptor{
		Name: "abilene",
		Switches: []string{
			"ATLA", "CHIN", "DNVR", "HSTN", "IPLS", "KSCY",
			"LOSA", "NYCM", "SNVA", "STTL", "WASH",
		},
		Links: []LinkDesc{
			link("ATLA", "HSTN", 24.1, 18.4, 31.2, 22.8, 18.4, 27.5),
			link("ATLA", "IPLS", 27.3, 20.1, 35.8, 25.6, 20.1, 30.1),
			link("ATLA", "WASH", 21.9, 17.2, 42.6, 23.4, 17.2, 38.9),
			link("CHIN", "IPLS", 19.8, 16.5, 28.4, 18.2, 16.5, 25.7),
			link("CHIN", "NYCM", 17.4, 15.8, 33.1, 16.9, 15.8, 36.4),
			link("DNVR", "KSCY", 23.6, 18.9, 22.3, 24.1, 18.9, 20.8),
			link("DNVR", "SNVA", 25.2, 19.4, 26.9, 23.8, 19.4, 24.2),
			link("DNVR", "STTL", 18.7, 15.2, 15.6, 17.3, 15.2, 14.1),
			link("HSTN", "KSCY", 22.4, 17.8, 19.2, 21.6, 17.8, 18.4),
			link("HSTN", "LOSA", 20.3, 16.1, 24.8, 19.7, 16.1, 22.6),
			link("IPLS", "KSCY", 26.8, 19.7, 29.5, 27.2, 19.7, 31.8),
			link("LOSA", "SNVA", 19.2, 15.4, 27.3, 18.6, 15.4, 29.1),
			link("NYCM", "WASH", 16.8, 14.9, 44.2, 17.5, 14.9, 41.7),
			link("SNVA", "STTL", 21.1, 16.7, 18.9, 20.4, 16.7, 17.2),
		},
	}
}

// Four switches with degrees [2,3,3,2], small enough to eyeball in logs.
func diamond() *Descriptor {
	link := func(src, dst string, f, b float64) LinkDesc {
		return LinkDesc{
			Src: src, Dst: dst,
			FwdAttrs: map[string]float64{"deg": f, "uni": 10},
			BwdAttrs: map[string]float64{"deg": b, "uni": 10},
		}
	}
	return &Descriptor{
		Name:     "diamond",
		Switches: []string{"s1", "s2", "s3", "s4"},
		Links: []LinkDesc{
			link("s1", "s2", 14, 12),
			link("s1", "s3", 13, 11),
			link("s2", "s3", 16, 15),
			link("s2", "s4", 12, 13),
			link("s3", "s4", 11, 12),
		},
	}
}
