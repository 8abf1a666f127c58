// SPDX-License-Identifier: AGPL-3.0-only
package origin

import (
	"fmt"
	"maps"
	"sort"
)

// Names of the built-in origins. Deployments supply the bucket details for each.
const (
	EUCentral = "eu_central"
	USEast    = "us_east"
	USWest    = "us_west"
)

// DefaultLocation is used when running on a local test host.
const DefaultLocation = "SJC"

// DefaultOrder is the attempt order for locations without an entry.
var DefaultOrder = []string{USWest, USEast, EUCentral}

// BuiltinLayout maps location codes to origin names in attempt order.
var BuiltinLayout = map[string][]string{
	"AMS": {EUCentral, USEast, USWest},
	"WDC": {USEast, USWest, EUCentral},
	"IAD": {USEast, USWest, EUCentral},
	"BWI": {USEast, USWest, EUCentral},
	"DCA": {USEast, USWest, EUCentral},
	"ATL": {USEast, USWest, EUCentral},
	"FTY": {USEast, USWest, EUCentral},
	"PDK": {USEast, USWest, EUCentral},
	"AKL": {USWest, EUCentral, USEast},
	"BOG": {USEast, USWest, EUCentral},
	"BOS": {USEast, USWest, EUCentral},
}

// Registry maps location codes to origin priority lists. It is built once and
// never mutated, so concurrent Resolve calls need no locking.
type Registry struct {
	lists    map[string]PriorityList
	fallback PriorityList
}

// NewRegistry copies lists. Location codes are matched exactly, so "ams" is
// an unknown code when only "AMS" is listed.
func NewRegistry(lists map[string]PriorityList, fallback PriorityList) *Registry {
	return &Registry{
		lists:    maps.Clone(lists),
		fallback: fallback,
	}
}

// BuildRegistry resolves a name-based layout against a set of named origins.
func BuildRegistry(origins map[string]Origin, layout map[string][]string, fallback []string) (*Registry, error) {
	resolve := func(names []string) (PriorityList, error) {
		list := make([]Origin, 0, len(names))
		for _, n := range names {
			o, ok := origins[n]
			if !ok {
				return PriorityList{}, fmt.Errorf("%w: unknown origin %q", ErrInvalidPriorityList, n)
			}
			list = append(list, o)
		}
		return NewPriorityList(list...)
	}

	def, err := resolve(fallback)
	if err != nil {
		return nil, fmt.Errorf("default origins: %w", err)
	}

	lists := make(map[string]PriorityList, len(layout))
	for code, names := range layout {
		l, err := resolve(names)
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", code, err)
		}
		lists[code] = l
	}
	return NewRegistry(lists, def), nil
}

// Resolve returns the priority list for code, or the default list when code is unknown.
func (r *Registry) Resolve(code string) PriorityList {
	if l, ok := r.lists[code]; ok {
		return l
	}
	return r.fallback
}

// Default returns the list used for unknown location codes.
func (r *Registry) Default() PriorityList {
	return r.fallback
}

// Locations returns the configured location codes, sorted.
func (r *Registry) Locations() []string {
	codes := make([]string, 0, len(r.lists))
	for code := range r.lists {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Origins returns every distinct origin referenced by the registry.
func (r *Registry) Origins() []Origin {
	seen := map[Origin]struct{}{}
	var out []Origin
	add := func(l PriorityList) {
		for _, o := range l.origins {
			if _, ok := seen[o]; ok {
				continue
			}
			seen[o] = struct{}{}
			out = append(out, o)
		}
	}

	add(r.fallback)
	for _, code := range r.Locations() {
		add(r.lists[code])
	}
	return out
}
