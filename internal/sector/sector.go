// Package sector derives the positional sector-ID lists of a chamber.
//
// Step values are stored positionally (light_sectors[0] belongs to the first
// light sector). Device managers zip those values against the lists produced
// here, so the derivation depends only on chamber configuration and never on
// the schedule being resolved.
package sector

import (
	"fmt"
	"strings"
)

// Kind is a controllable quantity within a chamber.
type Kind string

const (
	Temperature Kind = "temperature"
	Humidity    Kind = "humidity"
	CO2         Kind = "co2"
	Light       Kind = "light"
	Watering    Kind = "watering"
)

// Kinds lists every kind in dispatch order.
func Kinds() []Kind {
	return []Kind{Temperature, Humidity, CO2, Light, Watering}
}

// Layout declares how many sectors of one kind a chamber has and, optionally,
// their explicit IDs.
type Layout struct {
	Count int      `json:"count" yaml:"count"`
	IDs   []string `json:"ids,omitempty" yaml:"ids,omitempty"`
}

// Config is the sector part of a chamber's configuration.
type Config struct {
	Temperature Layout `json:"temperature" yaml:"temperature"`
	Humidity    Layout `json:"humidity" yaml:"humidity"`
	CO2         Layout `json:"co2" yaml:"co2"`
	Light       Layout `json:"light" yaml:"light"`
	Watering    Layout `json:"watering" yaml:"watering"`
}

func (c Config) layout(k Kind) Layout {
	switch k {
	case Temperature:
		return c.Temperature
	case Humidity:
		return c.Humidity
	case CO2:
		return c.CO2
	case Light:
		return c.Light
	case Watering:
		return c.Watering
	}
	return Layout{}
}

// IDs holds the derived sector-ID list for each kind.
type IDs struct {
	Temperature []string `json:"temperature"`
	Humidity    []string `json:"humidity"`
	CO2         []string `json:"co2"`
	Light       []string `json:"light"`
	Watering    []string `json:"watering"`
}

// For returns the list for kind k.
func (ids IDs) For(k Kind) []string {
	switch k {
	case Temperature:
		return ids.Temperature
	case Humidity:
		return ids.Humidity
	case CO2:
		return ids.CO2
	case Light:
		return ids.Light
	case Watering:
		return ids.Watering
	}
	return nil
}

// Derive computes the sector IDs of every kind. Explicit IDs are used when
// they match the declared count; otherwise IDs are numbered "<kind>_<n>"
// starting at 1. Climate kinds default to a single sector when no count is
// declared; light and watering default to none.
func Derive(c Config) (IDs, error) {
	var out IDs
	for _, k := range Kinds() {
		l := c.layout(k)
		if l.Count == 0 && isClimate(k) {
			l.Count = 1
		}
		ids, err := derive(k, l)
		if err != nil {
			return IDs{}, err
		}
		switch k {
		case Temperature:
			out.Temperature = ids
		case Humidity:
			out.Humidity = ids
		case CO2:
			out.CO2 = ids
		case Light:
			out.Light = ids
		case Watering:
			out.Watering = ids
		}
	}
	return out, nil
}

func isClimate(k Kind) bool {
	return k == Temperature || k == Humidity || k == CO2
}

func derive(k Kind, l Layout) ([]string, error) {
	if l.Count < 0 {
		return nil, fmt.Errorf("%s: negative sector count %d", k, l.Count)
	}
	if len(l.IDs) > 0 {
		if len(l.IDs) != l.Count {
			return nil, fmt.Errorf("%s: %d explicit ids for %d sectors", k, len(l.IDs), l.Count)
		}
		seen := make(map[string]struct{}, len(l.IDs))
		ids := make([]string, len(l.IDs))
		for i, id := range l.IDs {
			id = strings.TrimSpace(id)
			if id == "" {
				return nil, fmt.Errorf("%s: empty id at position %d", k, i)
			}
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%s: duplicate id %q", k, id)
			}
			seen[id] = struct{}{}
			ids[i] = id
		}
		return ids, nil
	}
	ids := make([]string, l.Count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_%d", k, i+1)
	}
	return ids, nil
}
