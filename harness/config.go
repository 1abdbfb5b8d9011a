package harness

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Defaults for a benchmark run.
const (
	DefaultTrials  = 100
	DefaultChainID = 1
	DefaultBlock   = 10889447
)

// Config holds parameters for a benchmark run.
type Config struct {
	// Delay is slept before every storage read.
	Delay time.Duration
	// Workers bounds the parallel engine; the sequential path ignores it.
	Workers int
	Trials  int
	// Sequential also runs the reference path and checks equivalence.
	Sequential bool
	ChainID    uint64
}

// DefaultWorkers returns the number of logical CPUs.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}

	return n
}

// Validate rejects configurations that cannot produce a measurement.
func (c Config) Validate() error {
	var errs []error

	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative, got %s", c.Delay))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Trials < 1 {
		errs = append(errs, fmt.Errorf("trials must be at least 1, got %d", c.Trials))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("chain id must be set"))
	}

	return errors.Join(errs...)
}
