// Package registry resolves logical location names to the PurpleAir sensors
// and Weather Underground stations configured for them.
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Registry errors. Both are request validation failures.
var (
	ErrNoLocations     = errors.New("locations list cannot be empty")
	ErrUnknownLocation = errors.New("invalid location")
)

// Station is a Weather Underground personal weather station.
type Station struct {
	ID      string `yaml:"id"`
	Geocode string `yaml:"geocode"`
}

// Location groups the devices deployed at one named place.
type Location struct {
	Name     string    `yaml:"-"`
	Sensors  []int     `yaml:"sensors"`
	Stations []Station `yaml:"stations"`
}

// Registry is the immutable device registry.
type Registry struct {
	locations map[string]Location
}

type document struct {
	Locations map[string]Location `yaml:"locations"`
}

// New builds a registry from already decoded locations.
func New(locations map[string]Location) *Registry {
	r := &Registry{locations: make(map[string]Location, len(locations))}
	for name, loc := range locations {
		loc.Name = name
		r.locations[name] = loc
	}
	return r
}

// Load reads a YAML device registry file.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open device registry: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a YAML device registry:
//
//	locations:
//	  patras:
//	    sensors: [1234]
//	    stations:
//	      - id: IPATRA1
//	        geocode: "38.24,21.73"
func Decode(r io.Reader) (*Registry, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode device registry: %w", err)
	}
	for name, loc := range doc.Locations {
		for _, s := range loc.Stations {
			if s.ID == "" || s.Geocode == "" {
				return nil, fmt.Errorf("location %s: station id and geocode are required", name)
			}
		}
	}
	return New(doc.Locations), nil
}

// Resolve returns the devices for one location.
func (r *Registry) Resolve(name string) (Location, error) {
	loc, ok := r.locations[name]
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", ErrUnknownLocation, name)
	}
	return loc, nil
}

// ResolveAll validates every name before returning any location, so an
// unknown name rejects the whole request.
func (r *Registry) ResolveAll(names []string) ([]Location, error) {
	if len(names) == 0 {
		return nil, ErrNoLocations
	}
	locs := make([]Location, 0, len(names))
	for _, name := range names {
		loc, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// Names returns the configured location names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.locations))
	for name := range r.locations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
