package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePools(); err != nil {
		return err
	}
	if err := c.validateBackoff(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.VolumeRoot == "" {
		return errors.New("paths.volume_root must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for _, entry := range []struct {
		name  string
		stage Stage
	}{
		{"pipeline.preprocess", c.Pipeline.Preprocess},
		{"pipeline.gpu", c.Pipeline.GPU},
		{"pipeline.postprocess", c.Pipeline.Postprocess},
	} {
		if entry.stage.Command == "" {
			return fmt.Errorf("%s.command must be set", entry.name)
		}
		if entry.stage.Class != ClassLight && entry.stage.Class != ClassAccelerated {
			return fmt.Errorf("%s.class must be %q or %q", entry.name, ClassLight, ClassAccelerated)
		}
		if entry.stage.MaxAttempts < 1 {
			return fmt.Errorf("%s.max_attempts must be at least 1", entry.name)
		}
	}
	return nil
}

func (c *Config) validatePools() error {
	for _, entry := range []struct {
		name string
		pool Pool
	}{
		{"pools.light", c.Pools.Light},
		{"pools.accelerated", c.Pools.Accelerated},
	} {
		if entry.pool.CapacityUnits < 1 {
			return fmt.Errorf("%s.capacity_units must be at least 1", entry.name)
		}
		switch entry.pool.AllocationStrategy {
		case AllocationCostOptimized, AllocationAvailability:
		default:
			return fmt.Errorf("%s.allocation_strategy must be %q or %q",
				entry.name, AllocationCostOptimized, AllocationAvailability)
		}
		switch entry.pool.PricingClass {
		case PricingInterruptible, PricingOnDemand:
		default:
			return fmt.Errorf("%s.pricing_class must be %q or %q",
				entry.name, PricingInterruptible, PricingOnDemand)
		}
	}

	// A stage must fit inside its class's capacity bound or it can never start.
	for _, entry := range []struct {
		name  string
		stage Stage
	}{
		{"pipeline.preprocess", c.Pipeline.Preprocess},
		{"pipeline.gpu", c.Pipeline.GPU},
		{"pipeline.postprocess", c.Pipeline.Postprocess},
	} {
		capacity := c.Pools.Light.CapacityUnits
		if entry.stage.Class == ClassAccelerated {
			capacity = c.Pools.Accelerated.CapacityUnits
		}
		if entry.stage.CPUUnits > capacity {
			return fmt.Errorf("%s.cpu_units (%d) exceeds the %s pool capacity (%d)",
				entry.name, entry.stage.CPUUnits, entry.stage.Class, capacity)
		}
	}
	return nil
}

func (c *Config) validateBackoff() error {
	if c.Backoff.Rate < 1 {
		return errors.New("backoff.rate must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
}
