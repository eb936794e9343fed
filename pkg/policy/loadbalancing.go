package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/goccy/go-yaml"
	"github.com/samber/lo"
)

// LoadBalancing is the DNS load balancing section of a DNSPolicy.
type LoadBalancing struct {
	DefaultGeo bool   `json:"defaultGeo"`
	Geo        string `json:"geo"`
	Weight     int    `json:"weight"`
}

func (l LoadBalancing) Validate() error {
	if l.Weight <= 0 {
		return fmt.Errorf("weight of geo %q must be greater than 0, got %d", l.Geo, l.Weight)
	}
	if l.Geo == "" {
		return errors.New("geo must not be empty")
	}
	return nil
}

// Ordered returns the fields in a stable order: defaultGeo, geo, weight.
func (l LoadBalancing) Ordered() *orderedmap.OrderedMap[string, any] {
	m := orderedmap.NewOrderedMap[string, any]()
	m.Set("defaultGeo", l.DefaultGeo)
	m.Set("geo", l.Geo)
	m.Set("weight", l.Weight)
	return m
}

// Map returns the section as a raw document fragment.
func (l LoadBalancing) Map() map[string]interface{} {
	return map[string]interface{}{
		"defaultGeo": l.DefaultGeo,
		"geo":        l.Geo,
		"weight":     int64(l.Weight),
	}
}

// InvalidPolicyCompositionError is returned when a set of policies cannot be attached
// together. It is detected locally, before anything is sent to the cluster.
type InvalidPolicyCompositionError struct {
	Hostname string
	// ConflictingGeos lists the geos that claim to be the default
	ConflictingGeos []string
	Err             error
}

func (e *InvalidPolicyCompositionError) Error() string {
	return fmt.Sprintf("invalid load balancing for %s: %s", e.Hostname, e.Err)
}

func (e *InvalidPolicyCompositionError) Unwrap() error {
	return e.Err
}

var ErrDefaultGeo = errors.New("exactly one entry must be the default geo")

// LoadBalancingSet is every load balancing section attached to the same DNS name,
// typically one DNSPolicy per cluster.
type LoadBalancingSet struct {
	Hostname string
	Entries  []LoadBalancing
}

// NewLoadBalancingSet validates entries as a whole: each one must be valid and exactly
// one of them must be the default geo.
func NewLoadBalancingSet(hostname string, entries ...LoadBalancing) (*LoadBalancingSet, error) {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, &InvalidPolicyCompositionError{Hostname: hostname, Err: err}
		}
	}

	defaults := lo.Filter(entries, func(e LoadBalancing, _ int) bool { return e.DefaultGeo })
	if len(defaults) != 1 {
		geos := lo.Map(defaults, func(e LoadBalancing, _ int) string { return e.Geo })
		return nil, &InvalidPolicyCompositionError{
			Hostname:        hostname,
			ConflictingGeos: geos,
			Err:             fmt.Errorf("%w, got %d [%s]", ErrDefaultGeo, len(defaults), strings.Join(geos, ", ")),
		}
	}

	return &LoadBalancingSet{Hostname: hostname, Entries: entries}, nil
}

// Default returns the entry holding the default geo.
func (s *LoadBalancingSet) Default() LoadBalancing {
	e, _ := lo.Find(s.Entries, func(e LoadBalancing) bool { return e.DefaultGeo })
	return e
}

// Render serializes the set with a deterministic key ordering.
func (s *LoadBalancingSet) Render() ([]byte, error) {
	entries := make([]yaml.MapSlice, 0, len(s.Entries))
	for _, e := range s.Entries {
		entries = append(entries, toMapSlice(e.Ordered()))
	}
	return yaml.Marshal(yaml.MapSlice{
		{Key: "hostname", Value: s.Hostname},
		{Key: "loadBalancing", Value: entries},
	})
}

func toMapSlice(m *orderedmap.OrderedMap[string, any]) yaml.MapSlice {
	ms := make(yaml.MapSlice, 0, m.Len())
	for el := m.Front(); el != nil; el = el.Next() {
		ms = append(ms, yaml.MapItem{Key: el.Key, Value: el.Value})
	}
	return ms
}
