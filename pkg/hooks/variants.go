package hooks

import (
	"sync/atomic"

	"github.com/chazu/classweave/pkg/boot"
	"github.com/chazu/classweave/pkg/classfile"
	"github.com/chazu/classweave/pkg/splice"
)

// ResultCache remembers splice results by input.
type ResultCache interface {
	Lookup(input []byte, target splice.Target, marker string) ([]byte, bool)
	Store(input []byte, target splice.Target, marker string, output []byte)
}

// FilterSpliceHook filters the returns of one method of one class. It
// handles the first event for that class and then deregisters itself,
// whether or not the splice succeeded.
type FilterSpliceHook struct {
	Target  splice.Target
	Marker  string
	Splicer *splice.Splicer
	Cache   ResultCache // optional

	registry *Registry
	class    string
	seen     atomic.Bool
}

// NewFilterSpliceHook returns a hook that deregisters itself from r.
func NewFilterSpliceHook(r *Registry, target splice.Target, marker string) *FilterSpliceHook {
	return &FilterSpliceHook{
		Target:   target,
		Marker:   marker,
		Splicer:  &splice.Splicer{},
		registry: r,
		class:    classfile.InternalName(target.Class),
	}
}

func (h *FilterSpliceHook) Name() string { return "filter-splice" }

// Done reports whether the hook has handled its class.
func (h *FilterSpliceHook) Done() bool { return h.seen.Load() }

func (h *FilterSpliceHook) Handle(ev *Event) ([]byte, error) {
	if classfile.InternalName(ev.Name) != h.class {
		return nil, nil
	}
	if !h.seen.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer h.registry.Deregister(h)

	if h.Cache != nil {
		if out, ok := h.Cache.Lookup(ev.Bytes, h.Target, h.Marker); ok {
			log.Debugf("cached splice of %s", h.Target)
			return out, nil
		}
	}
	out, err := h.Splicer.FilterReturns(ev.Bytes, h.Target, h.Marker)
	if err != nil {
		return nil, err
	}
	if h.Cache != nil {
		h.Cache.Store(ev.Bytes, h.Target, h.Marker, out)
	}
	log.Infof("spliced %s", h.Target)
	return out, nil
}

// BootTriggerHook feeds every event to a boot gate. It never rewrites
// and deregisters itself once the gate has fired.
type BootTriggerHook struct {
	Gate *boot.Gate

	registry *Registry
}

// NewBootTriggerHook returns a hook that deregisters itself from r.
func NewBootTriggerHook(r *Registry, g *boot.Gate) *BootTriggerHook {
	return &BootTriggerHook{Gate: g, registry: r}
}

func (h *BootTriggerHook) Name() string { return "boot-trigger" }

func (h *BootTriggerHook) Handle(ev *Event) ([]byte, error) {
	if h.Gate.Observe(ev.Loader, ev.Name) || h.Gate.Fired() {
		h.registry.Deregister(h)
	}
	return nil, nil
}
