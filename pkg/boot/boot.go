// Package boot runs the downstream initialization exactly once, on the
// first load event whose class name matches a trigger.
package boot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chazu/classweave/pkg/classfile"
	"github.com/chazu/classweave/pkg/launch"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("classweave.boot")

// ErrDownstreamInit wraps failures of the path extension or of the
// downstream initializer. The gate still counts as fired.
var ErrDownstreamInit = errors.New("boot: downstream init failed")

// State is the gate state. It only moves forward.
type State int32

const (
	Idle State = iota
	Firing
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Firing:
		return "firing"
	case Fired:
		return "fired"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Match says which trigger predicate accepted a class name.
type Match int

const (
	MatchNone Match = iota
	MatchPrimary
	MatchFallback
)

func (m Match) String() string {
	switch m {
	case MatchNone:
		return "none"
	case MatchPrimary:
		return "primary"
	case MatchFallback:
		return "fallback"
	}
	return fmt.Sprintf("Match(%d)", int(m))
}

// ---------------------------------------------------------------------------
// Trigger
// ---------------------------------------------------------------------------

// Trigger selects the class names that fire the gate. Names may be given
// in binary (a.b.C) or internal (a/b/C) form.
//
// The fallback predicate accepts any class under FallbackPrefix that is
// not reserved. It is best effort: a class under the prefix may load
// before the downstream's own prerequisites, and nothing orders the two.
type Trigger struct {
	Primary        []string
	FallbackPrefix string
	Reserved       []string
}

// Match reports which predicate, if any, accepts name. Primary wins over
// fallback.
func (t Trigger) Match(name string) (Match, bool) {
	name = classfile.InternalName(name)
	for _, p := range t.Primary {
		if classfile.InternalName(p) == name {
			return MatchPrimary, true
		}
	}
	if t.FallbackPrefix == "" {
		return MatchNone, false
	}
	if !strings.HasPrefix(name, packagePrefix(t.FallbackPrefix)) {
		return MatchNone, false
	}
	if slices.ContainsFunc(t.Reserved, func(r string) bool { return classfile.InternalName(r) == name }) {
		return MatchNone, false
	}
	return MatchFallback, true
}

// packagePrefix returns prefix as an internal package name ending in a
// slash, so "net.minecraft" does not cover net/minecraftforge.
func packagePrefix(prefix string) string {
	return strings.TrimSuffix(classfile.InternalName(prefix), "/") + "/"
}

// ---------------------------------------------------------------------------
// Downstream
// ---------------------------------------------------------------------------

// Downstream is initialized once, when the gate fires. host is the
// opaque value the gate was configured with.
type Downstream interface {
	Init(host any) error
}

// DownstreamFunc adapts a function to Downstream.
type DownstreamFunc func(host any) error

func (f DownstreamFunc) Init(host any) error {
	return f(host)
}

// Record describes the event that fired the gate.
type Record struct {
	Loader launch.LoaderID
	Name   string
	Match  Match
	At     time.Time
	Err    error
}

// ---------------------------------------------------------------------------
// Gate
// ---------------------------------------------------------------------------

// Config configures a Gate. Location is added to the firing loader's
// search path before Downstream runs; empty skips that step.
type Config struct {
	Trigger      Trigger
	Downstream   Downstream
	PathExtender launch.PathExtender
	Location     string
	Host         any
}

// Gate is a single-fire latch. It is safe for concurrent use.
type Gate struct {
	cfg    Config
	state  atomic.Int32
	record atomic.Pointer[Record]
	done   chan struct{}
}

// NewGate returns an idle gate.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg, done: make(chan struct{})}
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Fired reports whether firing has completed.
func (g *Gate) Fired() bool {
	return g.State() == Fired
}

// Record returns the event that fired the gate, or nil before it has.
func (g *Gate) Record() *Record {
	return g.record.Load()
}

// Done is closed once the gate has fired.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate has fired or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe feeds one load event to the gate. It returns true only for
// the event that moved the gate out of Idle; that call runs the path
// extension and the downstream initializer before returning.
func (g *Gate) Observe(loader launch.LoaderID, name string) bool {
	if g.state.Load() != int32(Idle) {
		return false
	}
	match, ok := g.cfg.Trigger.Match(name)
	if !ok {
		return false
	}
	if !g.state.CompareAndSwap(int32(Idle), int32(Firing)) {
		return false
	}

	rec := &Record{Loader: loader, Name: name, Match: match, At: time.Now()}
	log.Infof("firing on %s (%s trigger, loader %d)", classfile.BinaryName(name), match, loader)
	if err := g.fire(loader); err != nil {
		rec.Err = err
		log.Errorf("%s", err)
	}
	g.record.Store(rec)
	g.state.Store(int32(Fired))
	close(g.done)
	return true
}

func (g *Gate) fire(loader launch.LoaderID) error {
	var errs []error
	if g.cfg.Location != "" && g.cfg.PathExtender != nil {
		err := guard("add location", func() error {
			return g.cfg.PathExtender.AddLocation(loader, g.cfg.Location)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if g.cfg.Downstream != nil {
		if err := guard("init", func() error { return g.cfg.Downstream.Init(g.cfg.Host) }); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDownstreamInit, errors.Join(errs...))
}

// guard runs fn and turns a panic into an error.
func guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
