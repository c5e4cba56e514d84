package tools

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed districts.yaml
var districtsYAML []byte

// District is a gazetteer entry resolved for a region-based quote.
type District struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"lat"`
	Longitude float64 `json:"longitude" yaml:"lon"`
	Province  string  `json:"province" yaml:"province"`
	Zone      string  `json:"zone" yaml:"zone"`
}

// Gazetteer resolves free-form region names to district centroids.
type Gazetteer struct {
	districts []District // declaration order, keys lower-case
	byName    map[string]District
}

var loadGazetteer = sync.OnceValues(func() (*Gazetteer, error) {
	return ParseGazetteer(districtsYAML)
})

// LoadGazetteer returns the embedded district list, parsed once.
func LoadGazetteer() (*Gazetteer, error) {
	return loadGazetteer()
}

// ParseGazetteer parses a YAML document with a top-level districts list.
func ParseGazetteer(data []byte) (*Gazetteer, error) {
	var doc struct {
		Districts []District `yaml:"districts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse districts: %w", err)
	}
	if len(doc.Districts) == 0 {
		return nil, fmt.Errorf("parse districts: no districts defined")
	}

	g := &Gazetteer{byName: make(map[string]District, len(doc.Districts))}
	for _, d := range doc.Districts {
		d.Name = strings.ToLower(strings.TrimSpace(d.Name))
		if _, dup := g.byName[d.Name]; dup {
			return nil, fmt.Errorf("parse districts: duplicate district %q", d.Name)
		}
		g.byName[d.Name] = d
		g.districts = append(g.districts, d)
	}
	return g, nil
}

var districtSuffixes = []string{" district", " rural", " urban", " metropolitan"}

// Lookup finds a district by name. Exact matches keep the caller's spelling;
// otherwise the first district whose name contains, or is contained in, the
// cleaned query (at least 3 characters) wins.
func (g *Gazetteer) Lookup(region string) (District, bool) {
	clean := strings.ToLower(strings.TrimSpace(region))
	for _, suffix := range districtSuffixes {
		clean = strings.ReplaceAll(clean, suffix, "")
	}
	clean = strings.TrimSpace(clean)

	if d, ok := g.byName[clean]; ok {
		d.Name = region
		return d, true
	}
	if len(clean) < 3 {
		return District{}, false
	}
	for _, d := range g.districts {
		if strings.Contains(d.Name, clean) || strings.Contains(clean, d.Name) {
			d.Name = titleCase(d.Name)
			return d, true
		}
	}
	return District{}, false
}

// Names lists every district, title-cased and sorted.
func (g *Gazetteer) Names() []string {
	names := make([]string, 0, len(g.districts))
	for _, d := range g.districts {
		names = append(names, titleCase(d.Name))
	}
	sort.Strings(names)
	return names
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
