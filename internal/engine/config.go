package engine

import "time"

type Config struct {
	TickInterval  time.Duration `yaml:"tickInterval"`
	SeenCacheSize int           `yaml:"seenCacheSize"`
	SeenTTL       time.Duration `yaml:"seenTTL"`
	OutboxSize    int           `yaml:"outboxSize"`
	OutboxTTL     time.Duration `yaml:"outboxTTL"`
	// SinceWindow is how far back a subscription reaches before the last
	// time the relay was known to be live.
	SinceWindow time.Duration `yaml:"sinceWindow"`
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  250 * time.Millisecond,
		SeenCacheSize: 4096,
		SeenTTL:       10 * time.Minute,
		OutboxSize:    64,
		OutboxTTL:     2 * time.Minute,
		SinceWindow:   10 * time.Second,
	}
}

func NormalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = def.SeenCacheSize
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = def.SeenTTL
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}
	if cfg.OutboxTTL <= 0 {
		cfg.OutboxTTL = def.OutboxTTL
	}
	if cfg.SinceWindow < 0 {
		cfg.SinceWindow = def.SinceWindow
	}
	return cfg
}
