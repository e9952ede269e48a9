package fibre

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// DebugCategory selects which categories of structured logging are
// active, parsed from the comma-separated DebugString environment
// variable (§6.2).
type DebugCategory uint32

const (
	DebugBasic DebugCategory = 1 << iota
	DebugBlocking
	DebugPolling
	DebugScheduling
	DebugThreads
	DebugWarning
)

func parseDebugString(s string) DebugCategory {
	var mask DebugCategory
	for _, tok := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(tok)) {
		case "basic":
			mask |= DebugBasic
		case "blocking":
			mask |= DebugBlocking
		case "polling":
			mask |= DebugPolling
		case "scheduling":
			mask |= DebugScheduling
		case "threads":
			mask |= DebugThreads
		case "warning":
			mask |= DebugWarning
		}
	}
	return mask
}

// bootstrapConfig collects everything EventScope.Bootstrap needs,
// assembled with precedence option > environment variable > default.
type bootstrapConfig struct {
	pollerCount    int
	workerCount    int
	defaultPollers int
	debug          DebugCategory
	statsSignal    int
	printStats     string
	fdMode         FDRegistrationMode
	spin           SpinPolicy
	readyQueueKind ReadyQueueKind
}

func defaultBootstrapConfig() *bootstrapConfig {
	cfg := &bootstrapConfig{
		pollerCount:    1,
		workerCount:    runtime.GOMAXPROCS(0),
		defaultPollers: 1,
		fdMode:         FDModeLazy,
		spin:           DefaultSpinPolicy(),
		readyQueueKind: ReadyQueueLockFree,
	}
	if v := os.Getenv("DebugString"); v != "" {
		cfg.debug = parseDebugString(v)
	}
	if v := os.Getenv("StatsSignal"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.statsSignal = n
		}
	}
	cfg.printStats = os.Getenv("PrintStats")
	if v := os.Getenv("PollerCount"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.pollerCount = n
		}
	}
	if v := os.Getenv("WorkerCount"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.workerCount = n
		}
	}
	if v := os.Getenv("DefaultPollers"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.defaultPollers = n
		}
	}
	return cfg
}

// Option configures EventScope bootstrap, applied after the environment
// defaults so a caller always wins over an ambient env var.
type Option interface {
	applyBootstrap(*bootstrapConfig)
}

type optionFunc func(*bootstrapConfig)

func (f optionFunc) applyBootstrap(c *bootstrapConfig) { f(c) }

func WithWorkerCount(n int) Option {
	return optionFunc(func(c *bootstrapConfig) { c.workerCount = n })
}

func WithPollerCount(n int) Option {
	return optionFunc(func(c *bootstrapConfig) { c.pollerCount = n })
}

func WithFDRegistrationMode(m FDRegistrationMode) Option {
	return optionFunc(func(c *bootstrapConfig) { c.fdMode = m })
}

func WithSpinPolicy(p SpinPolicy) Option {
	return optionFunc(func(c *bootstrapConfig) { c.spin = p })
}

func WithDebug(mask DebugCategory) Option {
	return optionFunc(func(c *bootstrapConfig) { c.debug = mask })
}

func WithReadyQueueKind(k ReadyQueueKind) Option {
	return optionFunc(func(c *bootstrapConfig) { c.readyQueueKind = k })
}

func resolveBootstrapConfig(opts []Option) *bootstrapConfig {
	cfg := defaultBootstrapConfig()
	for _, o := range opts {
		o.applyBootstrap(cfg)
	}
	if cfg.workerCount < 1 {
		cfg.workerCount = 1
	}
	if cfg.pollerCount < 1 {
		cfg.pollerCount = 1
	}
	return cfg
}
