package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizePools()
	c.normalizeBackoff()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.VolumeRoot, err = ExpandPath(c.Paths.VolumeRoot); err != nil {
		return fmt.Errorf("paths.volume_root: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizePipeline() {
	normalizeStage(&c.Pipeline.Preprocess, ClassLight)
	normalizeStage(&c.Pipeline.GPU, ClassAccelerated)
	normalizeStage(&c.Pipeline.Postprocess, ClassLight)
}

func normalizeStage(s *Stage, fallbackClass string) {
	s.Command = strings.TrimSpace(s.Command)
	s.Class = strings.ToLower(strings.TrimSpace(s.Class))
	if s.Class == "" {
		s.Class = fallbackClass
	}
	if s.CPUUnits <= 0 {
		s.CPUUnits = 1
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.AttemptTimeoutSeconds <= 0 {
		s.AttemptTimeoutSeconds = defaultAttemptTimeout
	}
	if s.Priority <= 0 {
		s.Priority = 1
	}
}

func (c *Config) normalizePools() {
	normalizePool(&c.Pools.Light, defaultLightCapacityUnits)
	normalizePool(&c.Pools.Accelerated, defaultAcceleratedCapacityUnits)
}

func normalizePool(p *Pool, fallbackCapacity int) {
	if p.CapacityUnits <= 0 {
		p.CapacityUnits = fallbackCapacity
	}
	p.AllocationStrategy = strings.ToLower(strings.TrimSpace(p.AllocationStrategy))
	if p.AllocationStrategy == "" {
		p.AllocationStrategy = AllocationCostOptimized
	}
	p.PricingClass = strings.ToLower(strings.TrimSpace(p.PricingClass))
	if p.PricingClass == "" {
		p.PricingClass = PricingInterruptible
	}
}

func (c *Config) normalizeBackoff() {
	if c.Backoff.BaseSeconds <= 0 {
		c.Backoff.BaseSeconds = defaultBackoffBaseSeconds
	}
	if c.Backoff.Rate <= 0 {
		c.Backoff.Rate = defaultBackoffRate
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.ExecutionTimeoutHours <= 0 {
		c.Workflow.ExecutionTimeoutHours = defaultExecutionTimeoutH
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}
