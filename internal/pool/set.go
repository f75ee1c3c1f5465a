package pool

import (
	"fmt"

	"conveyor/internal/config"
	"conveyor/internal/services"
)

// Set holds the independent pool per resource class. It is the job queue's
// binding from class to compute environment.
type Set struct {
	pools map[ResourceClass]*Pool
}

// NewSet builds the light and accelerated pools from config.
func NewSet(cfg *config.Config) (*Set, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pool", "new set", "config is required", nil)
	}
	light, err := New(ClassLight, cfg.Pools.Light.CapacityUnits)
	if err != nil {
		return nil, err
	}
	accelerated, err := New(ClassAccelerated, cfg.Pools.Accelerated.CapacityUnits)
	if err != nil {
		light.Close()
		return nil, err
	}
	return &Set{pools: map[ResourceClass]*Pool{
		ClassLight:       light,
		ClassAccelerated: accelerated,
	}}, nil
}

// ForClass returns the pool bound to a resource class.
func (s *Set) ForClass(class ResourceClass) (*Pool, error) {
	p, ok := s.pools[class]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "pool", "for class",
			fmt.Sprintf("no pool for resource class %q", class), nil)
	}
	return p, nil
}

// Pools returns all pools, for status and metrics reporting.
func (s *Set) Pools() []*Pool {
	result := make([]*Pool, 0, len(s.pools))
	for _, class := range []ResourceClass{ClassLight, ClassAccelerated} {
		if p, ok := s.pools[class]; ok {
			result = append(result, p)
		}
	}
	return result
}

// Close stops every pool dispatcher.
func (s *Set) Close() {
	for _, p := range s.pools {
		p.Close()
	}
}
