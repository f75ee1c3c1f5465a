package config

const (
	defaultVolumeRoot = "~/.local/share/conveyor/volume"
	defaultLogDir     = "~/.local/share/conveyor/logs"
	defaultDataDir    = "~/.local/share/conveyor/data"
	defaultAPIBind    = "127.0.0.1:8487"

	defaultLogLevel  = "info"
	defaultLogFormat = "console"

	// ClassLight and ClassAccelerated are the two resource classes.
	ClassLight       = "light"
	ClassAccelerated = "accelerated"

	// Allocation strategies for pool capacity.
	AllocationCostOptimized = "cost_optimized"
	AllocationAvailability  = "availability"

	// Pricing classes for pool capacity.
	PricingInterruptible = "interruptible"
	PricingOnDemand      = "on_demand"

	defaultBackoffBaseSeconds = 30
	defaultBackoffRate        = 2.0
	defaultMaxAttempts        = 3
	defaultAttemptTimeout     = 3600
	defaultExecutionTimeoutH  = 24

	defaultLightCapacityUnits       = 16
	defaultAcceleratedCapacityUnits = 8
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			VolumeRoot: defaultVolumeRoot,
			LogDir:     defaultLogDir,
			DataDir:    defaultDataDir,
			APIBind:    defaultAPIBind,
		},
		Pipeline: Pipeline{
			Preprocess: Stage{
				Command:               "conveyor-preprocess",
				Class:                 ClassLight,
				CPUUnits:              2,
				MemoryMiB:             2048,
				MaxAttempts:           defaultMaxAttempts,
				AttemptTimeoutSeconds: defaultAttemptTimeout,
				Priority:              1,
			},
			GPU: Stage{
				Command:               "conveyor-gpu",
				Class:                 ClassAccelerated,
				CPUUnits:              4,
				MemoryMiB:             16384,
				MaxAttempts:           defaultMaxAttempts,
				AttemptTimeoutSeconds: defaultAttemptTimeout,
				Priority:              1,
			},
			Postprocess: Stage{
				Command:               "conveyor-postprocess",
				Class:                 ClassLight,
				CPUUnits:              2,
				MemoryMiB:             2048,
				MaxAttempts:           defaultMaxAttempts,
				AttemptTimeoutSeconds: defaultAttemptTimeout,
				Priority:              1,
			},
		},
		Pools: Pools{
			Light: Pool{
				CapacityUnits:      defaultLightCapacityUnits,
				AllocationStrategy: AllocationCostOptimized,
				PricingClass:       PricingInterruptible,
			},
			Accelerated: Pool{
				CapacityUnits:      defaultAcceleratedCapacityUnits,
				AllocationStrategy: AllocationCostOptimized,
				PricingClass:       PricingInterruptible,
			},
		},
		Backoff: Backoff{
			BaseSeconds: defaultBackoffBaseSeconds,
			Rate:        defaultBackoffRate,
		},
		Workflow: Workflow{
			ExecutionTimeoutHours: defaultExecutionTimeoutH,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
