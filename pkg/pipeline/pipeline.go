// Package pipeline is the host boundary: it owns the hook registry, the
// boot gate and the optional cache and journal, and turns each class
// load into either replacement bytes or nil.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/chazu/classweave/manifest"
	"github.com/chazu/classweave/pkg/boot"
	"github.com/chazu/classweave/pkg/cache"
	"github.com/chazu/classweave/pkg/classfile"
	"github.com/chazu/classweave/pkg/hooks"
	"github.com/chazu/classweave/pkg/journal"
	"github.com/chazu/classweave/pkg/launch"
	"github.com/chazu/classweave/pkg/splice"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("classweave.pipeline")

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDownstream sets the subsystem initialized when the boot gate fires.
func WithDownstream(d boot.Downstream) Option {
	return func(p *Pipeline) { p.downstream = d }
}

// WithPathExtender sets the loader boundary used for [boot] location.
func WithPathExtender(e launch.PathExtender) Option {
	return func(p *Pipeline) { p.extender = e }
}

// WithHost sets the value passed to the downstream initializer.
func WithHost(host any) Option {
	return func(p *Pipeline) { p.host = host }
}

// WithHierarchy sets the class hierarchy used when frames are recomputed.
func WithHierarchy(h classfile.Hierarchy) Option {
	return func(p *Pipeline) { p.hierarchy = h }
}

// WithCache sets the splice result cache. The caller keeps ownership.
func WithCache(c hooks.ResultCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithJournal sets the event journal. The caller keeps ownership.
func WithJournal(j *journal.Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

// WithCommandLine overrides the [launch] command line.
func WithCommandLine(cmdline string) Option {
	return func(p *Pipeline) {
		p.cmdline = cmdline
		p.cmdlineSet = true
	}
}

// Stats are pipeline counters.
type Stats struct {
	Events   int64
	Rewrites int64
	Failures int64
	Panics   int64
	Hooks    int
	Gate     boot.State
	Verdict  launch.Verdict
}

// Pipeline transforms class loads. It is safe for concurrent use.
type Pipeline struct {
	cfg      *manifest.Manifest
	decision launch.Decision
	target   splice.Target
	registry *hooks.Registry
	gate     *boot.Gate

	downstream boot.Downstream
	extender   launch.PathExtender
	host       any
	hierarchy  classfile.Hierarchy
	cache      hooks.ResultCache
	journal    *journal.Journal
	cmdline    string
	cmdlineSet bool

	ownCache   *cache.Store
	ownJournal *journal.Journal

	events     atomic.Int64
	rewrites   atomic.Int64
	failures   atomic.Int64
	panics     atomic.Int64
	bootLogged atomic.Bool
}

// New builds a pipeline from cfg, nil meaning manifest.Default(). The
// version gate is evaluated once here; when it disallows the host no
// hooks are installed and every class passes through. A cache or journal
// enabled in cfg and not supplied as an option is opened here and closed
// by Close.
func New(cfg *manifest.Manifest, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = manifest.Default()
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if !p.cmdlineSet {
		p.cmdline = cfg.Launch.CommandLine
	}

	if p.cache == nil && cfg.Cache.Enabled {
		store, err := cache.Open(cfg.CachePath(), 0)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		p.ownCache = store
		p.cache = store
	}
	if p.journal == nil && cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath(), cfg.Journal.Buffer)
		if err != nil {
			if p.ownCache != nil {
				p.ownCache.Close()
			}
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		p.ownJournal = j
		p.journal = j
	}

	p.registry = hooks.NewRegistry(p.hookFailed)
	p.decision = cfg.Policy().Check(p.cmdline)
	p.record(journal.Record{Kind: journal.KindVersion, Detail: fmt.Sprintf("%s %s", p.decision.Verdict, p.decision.Version)})
	if !p.decision.Allowed() {
		log.Warningf("host version %s is not supported, classes pass through", p.decision.Version)
		return p, nil
	}
	log.Infof("host version %s (%s)", p.decision.Version, p.decision.Verdict)

	p.target = splice.Target{Class: cfg.Filter.Class, Method: cfg.Filter.Method, Descriptor: cfg.Filter.Descriptor}
	p.gate = boot.NewGate(boot.Config{
		Trigger: boot.Trigger{
			Primary:        cfg.Boot.Primary,
			FallbackPrefix: cfg.Boot.FallbackPrefix,
			Reserved:       append(slices.Clone(cfg.Boot.Reserved), cfg.Filter.Class),
		},
		Downstream:   p.downstream,
		PathExtender: p.extender,
		Location:     cfg.Boot.Location,
		Host:         p.host,
	})
	p.registry.Register(hooks.NewBootTriggerHook(p.registry, p.gate))

	filter := hooks.NewFilterSpliceHook(p.registry, p.target, cfg.Filter.Marker)
	filter.Splicer = &splice.Splicer{Hierarchy: p.hierarchy}
	filter.Cache = p.cache
	p.registry.Register(filter)

	p.record(journal.Record{Kind: journal.KindStart, Detail: fmt.Sprintf("hooks %v", p.registry.Names())})
	return p, nil
}

// Transform handles one class load. It returns the replacement bytes,
// or nil when the host should use raw. It never panics.
func (p *Pipeline) Transform(loader launch.LoaderID, name string, raw []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Criticalf("transforming %s: %v", name, r)
			p.record(journal.Record{Kind: journal.KindPanic, Class: name, Loader: uint64(loader), Detail: fmt.Sprint(r)})
			out = nil
		}
	}()

	p.events.Add(1)
	if !p.decision.Allowed() {
		return nil
	}
	result, changed := p.registry.Dispatch(&hooks.Event{Loader: loader, Name: name, Bytes: raw})
	p.noteBoot()
	if !changed {
		return nil
	}

	p.rewrites.Add(1)
	p.record(journal.Record{
		Kind:   journal.KindRewrite,
		Class:  name,
		Loader: uint64(loader),
		In:     len(raw),
		Out:    len(result),
		Key:    cache.KeyOf(raw, p.target, p.cfg.Filter.Marker).String(),
	})
	return result
}

// noteBoot journals the gate firing once.
func (p *Pipeline) noteBoot() {
	if p.gate == nil || !p.gate.Fired() || !p.bootLogged.CompareAndSwap(false, true) {
		return
	}
	rec := p.gate.Record()
	jr := journal.Record{Kind: journal.KindBoot, Class: rec.Name, Loader: uint64(rec.Loader), Time: rec.At.UnixNano(), Detail: rec.Match.String()}
	if rec.Err != nil {
		jr.Detail += ": " + rec.Err.Error()
	}
	p.record(jr)
}

// hookFailed logs a hook failure at the level its kind deserves.
func (p *Pipeline) hookFailed(h hooks.Hook, ev *hooks.Event, err error) {
	var pe *hooks.PanicError
	switch {
	case errors.As(err, &pe):
		p.panics.Add(1)
		p.record(journal.Record{Kind: journal.KindPanic, Class: ev.Name, Loader: uint64(ev.Loader), Detail: err.Error()})
		return
	case errors.Is(err, splice.ErrTargetNotFound):
		log.Debugf("%s: %s", h.Name(), err)
	case errors.Is(err, classfile.ErrMalformedUnit):
		log.Warningf("%s: %s: %s", h.Name(), ev.Name, err)
	default:
		log.Errorf("%s: %s: %s", h.Name(), ev.Name, err)
	}
	p.failures.Add(1)
	p.record(journal.Record{Kind: journal.KindFailure, Class: ev.Name, Loader: uint64(ev.Loader), In: len(ev.Bytes), Detail: err.Error()})
}

func (p *Pipeline) record(r journal.Record) {
	if p.journal != nil {
		p.journal.Record(r)
	}
}

// Decision returns the version gate outcome.
func (p *Pipeline) Decision() launch.Decision {
	return p.decision
}

// Registry returns the hook registry, for downstream subsystems that
// install hooks of their own.
func (p *Pipeline) Registry() *hooks.Registry {
	return p.registry
}

// Gate returns the boot gate, nil when the version gate disallowed the host.
func (p *Pipeline) Gate() *boot.Gate {
	return p.gate
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Events:   p.events.Load(),
		Rewrites: p.rewrites.Load(),
		Failures: p.failures.Load(),
		Panics:   p.panics.Load(),
		Hooks:    p.registry.Len(),
		Verdict:  p.decision.Verdict,
	}
	if p.gate != nil {
		st.Gate = p.gate.State()
	}
	return st
}

// Close flushes and closes the cache and journal opened by New. Call it
// at process exit.
func (p *Pipeline) Close() error {
	st := p.Stats()
	p.record(journal.Record{Kind: journal.KindStop, Detail: fmt.Sprintf("events %d rewrites %d failures %d panics %d", st.Events, st.Rewrites, st.Failures, st.Panics)})

	var errs []error
	if p.ownJournal != nil {
		errs = append(errs, p.ownJournal.Close())
	}
	if p.ownCache != nil {
		errs = append(errs, p.ownCache.Close())
	}
	return errors.Join(errs...)
}
