// Package indicator drives the boolean status output that shows whether the
// server is connected and serving.
package indicator

import (
	"os"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Indicator is a logical on/off status sink.
type Indicator interface {
	Set(on bool)
}

// Output is a raw level sink; high is true.
type Output interface {
	Write(high bool) error
}

// Pin maps the logical state onto an Output with the configured polarity.
// With ActiveLow, "on" drives the output low.
type Pin struct {
	Out       Output
	ActiveLow bool
	Logger    *zap.Logger

	mu sync.Mutex
	on bool
}

func (p *Pin) Set(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on = on
	if err := p.Out.Write(on != p.ActiveLow); err != nil && p.Logger != nil {
		p.Logger.Warn("status output write failed", zap.Bool("on", on), zap.Error(err))
	}
}

// On returns the last logical state set.
func (p *Pin) On() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// File writes "1" or "0" to a path, such as a sysfs GPIO value file.
type File struct {
	Path string
}

func (f File) Write(high bool) error {
	v := []byte("0")
	if high {
		v = []byte("1")
	}
	return errors.Annotatef(os.WriteFile(f.Path, v, 0o644), "write %s", f.Path)
}

// Log is an indicator that only logs transitions.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Set(on bool) {
	l.Logger.Info("status indicator", zap.Bool("on", on))
}

// Nop discards every update.
type Nop struct{}

func (Nop) Set(bool) {}

// Multi fans a state out to several indicators.
type Multi []Indicator

func (m Multi) Set(on bool) {
	for _, ind := range m {
		ind.Set(on)
	}
}

// New builds the indicator for a deployment: a polarity-aware file output when
// path is set, always combined with a log of transitions.
func New(path string, activeLow bool, logger *zap.Logger) Indicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logInd := Log{Logger: logger.Named("indicator")}
	if path == "" {
		return logInd
	}
	return Multi{&Pin{Out: File{Path: path}, ActiveLow: activeLow, Logger: logger}, logInd}
}
