package params

import (
	"fmt"
	"sort"
)

// Grid describes a sensitivity-analysis sweep: a base parameter set plus
// one or more named dimensions that take an ordered sequence of candidate
// values. Parameters not listed in Vary contribute their base value.
type Grid struct {
	Base Set                  `yaml:"params"`
	Vary map[string][]float64 `yaml:"vary"`
}

// Combination is one point of the expanded grid: the concrete parameter
// set plus the values of the varying dimensions that produced it.
type Combination struct {
	Set    Set
	Varied map[string]float64
}

// Varied returns the grid's varying dimension names in deterministic
// (sorted) order.
func (g Grid) VariedNames() []string {
	names := make([]string, 0, len(g.Vary))
	for name := range g.Vary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Combinations enumerates the full Cartesian product of the varying
// dimensions. Every returned set is validated; a single invalid point
// fails the whole expansion so the sweep never starts on bad input.
func (g Grid) Combinations() ([]Combination, error) {
	names := g.VariedNames()
	for _, name := range names {
		if len(g.Vary[name]) == 0 {
			return nil, fmt.Errorf("%w: sweep dimension %q has no values", ErrInvalidParameters, name)
		}
		if _, ok := g.Base.Param(name); !ok {
			return nil, fmt.Errorf("%w: unknown sweep dimension %q", ErrInvalidParameters, name)
		}
	}

	combos := []Combination{{Set: g.Base, Varied: map[string]float64{}}}
	for _, name := range names {
		next := make([]Combination, 0, len(combos)*len(g.Vary[name]))
		for _, c := range combos {
			for _, v := range g.Vary[name] {
				set, err := c.Set.WithParam(name, v)
				if err != nil {
					return nil, err
				}
				varied := make(map[string]float64, len(c.Varied)+1)
				for k, val := range c.Varied {
					varied[k] = val
				}
				varied[name] = v
				next = append(next, Combination{Set: set, Varied: varied})
			}
		}
		combos = next
	}

	for i, c := range combos {
		if err := c.Set.Validate(); err != nil {
			return nil, fmt.Errorf("grid point %d: %w", i, err)
		}
	}
	return combos, nil
}
