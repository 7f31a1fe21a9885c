package boot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/classweave/pkg/launch"
	"golang.org/x/sync/errgroup"
)

var testTrigger = Trigger{
	Primary:        []string{"net.minecraftforge.fml.common.Loader"},
	FallbackPrefix: "net.minecraft.",
	Reserved:       []string{"net.minecraft.client.Minecraft", "net/minecraft/client/main/Main"},
}

func TestTriggerMatch(t *testing.T) {
	tests := []struct {
		name string
		want Match
	}{
		{"net.minecraftforge.fml.common.Loader", MatchPrimary},
		{"net/minecraftforge/fml/common/Loader", MatchPrimary},
		{"net/minecraft/util/Timer", MatchFallback},
		{"net.minecraft.block.Block", MatchFallback},
		{"net/minecraft/client/Minecraft", MatchNone},
		{"net.minecraft.client.main.Main", MatchNone},
		{"java/lang/String", MatchNone},
		{"net/minecraftforge/Other", MatchNone},
	}
	for _, tt := range tests {
		got, ok := testTrigger.Match(tt.name)
		if got != tt.want || ok != (tt.want != MatchNone) {
			t.Errorf("Match(%s) = %v, %v, want %v", tt.name, got, ok, tt.want)
		}
	}

	if _, ok := (Trigger{Primary: []string{"a.B"}}).Match("c/D"); ok {
		t.Error("trigger without fallback prefix matched an unrelated class")
	}
}

func TestFallbackPrefixPackageBoundary(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   bool
	}{
		{"net.minecraft", "net/minecraft/util/Timer", true},
		{"net.minecraft", "net/minecraftforge/Other", false},
		{"net.minecraft", "net/minecraft", false},
		{"net/minecraft/", "net.minecraft.util.Timer", true},
		{"net/minecraft/", "net/minecraftforge/Other", false},
		{"net.minecraft.", "net/minecraft/block/Block", true},
	}
	for _, tt := range tests {
		m, ok := (Trigger{FallbackPrefix: tt.prefix}).Match(tt.name)
		if ok != tt.want || (ok && m != MatchFallback) {
			t.Errorf("prefix %q: Match(%s) = %v, %v, want %v", tt.prefix, tt.name, m, ok, tt.want)
		}
	}
}

func TestGateFiresOnceUnderConcurrency(t *testing.T) {
	var inits atomic.Int32
	g := NewGate(Config{
		Trigger: testTrigger,
		Downstream: DownstreamFunc(func(host any) error {
			inits.Add(1)
			time.Sleep(time.Millisecond)
			return nil
		}),
	})

	matching := map[int]string{
		137: "net.minecraftforge.fml.common.Loader",
		500: "net/minecraft/util/Timer",
		901: "net/minecraft/world/World",
	}
	var won atomic.Int32
	var eg errgroup.Group
	for i := 0; i < 1000; i++ {
		name, ok := matching[i]
		if !ok {
			name = fmt.Sprintf("com/example/C%d", i)
		}
		loader := launch.LoaderID(i)
		eg.Go(func() error {
			if g.Observe(loader, name) {
				won.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := won.Load(); n != 1 {
		t.Errorf("%d events won the gate, want 1", n)
	}
	if n := inits.Load(); n != 1 {
		t.Errorf("downstream initialized %d times, want 1", n)
	}
	if !g.Fired() {
		t.Errorf("state = %v, want fired", g.State())
	}
	rec := g.Record()
	if rec == nil {
		t.Fatal("no record after firing")
	}
	if _, ok := testTrigger.Match(rec.Name); !ok {
		t.Errorf("gate fired on non-matching class %s", rec.Name)
	}
}

func TestGateFallbackTrigger(t *testing.T) {
	var host any
	g := NewGate(Config{
		Trigger:    testTrigger,
		Host:       "launcher",
		Downstream: DownstreamFunc(func(h any) error { host = h; return nil }),
	})

	for _, name := range []string{"java/lang/Object", "net/minecraft/client/Minecraft"} {
		if g.Observe(0, name) {
			t.Fatalf("gate fired on %s", name)
		}
	}
	if g.State() != Idle {
		t.Fatalf("state = %v, want idle", g.State())
	}
	if !g.Observe(3, "net/minecraft/init/Bootstrap") {
		t.Fatal("fallback class did not fire the gate")
	}
	if g.Observe(3, "net.minecraftforge.fml.common.Loader") {
		t.Error("primary trigger fired an already fired gate")
	}
	rec := g.Record()
	if rec.Match != MatchFallback || rec.Loader != 3 || rec.Err != nil {
		t.Errorf("record = %+v, want fallback on loader 3", rec)
	}
	if host != "launcher" {
		t.Errorf("downstream host = %v, want launcher", host)
	}
}

func TestGateExtendsPathBeforeInit(t *testing.T) {
	var steps []string
	g := NewGate(Config{
		Trigger:  testTrigger,
		Location: "mods/core.jar",
		PathExtender: launch.PathExtenderFunc(func(l launch.LoaderID, loc string) error {
			steps = append(steps, fmt.Sprintf("add %d %s", l, loc))
			return nil
		}),
		Downstream: DownstreamFunc(func(any) error {
			steps = append(steps, "init")
			return nil
		}),
	})
	g.Observe(9, "net.minecraftforge.fml.common.Loader")

	want := []string{"add 9 mods/core.jar", "init"}
	if fmt.Sprint(steps) != fmt.Sprint(want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestGateInitFailures(t *testing.T) {
	tests := []struct {
		name string
		ext  launch.PathExtender
		init Downstream
	}{
		{"panic", nil, DownstreamFunc(func(any) error { panic("mod list corrupt") })},
		{"error", nil, DownstreamFunc(func(any) error { return errors.New("no mods dir") })},
		{"extender", launch.PathExtenderFunc(func(launch.LoaderID, string) error {
			return errors.New("read-only loader")
		}), DownstreamFunc(func(any) error { return nil })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(Config{Trigger: testTrigger, Location: "x.jar", PathExtender: tt.ext, Downstream: tt.init})
			if !g.Observe(0, "net/minecraft/util/Timer") {
				t.Fatal("gate did not fire")
			}
			if !g.Fired() {
				t.Errorf("state = %v, want fired", g.State())
			}
			if err := g.Record().Err; !errors.Is(err, ErrDownstreamInit) {
				t.Errorf("record error = %v, want ErrDownstreamInit", err)
			}
			if g.Observe(0, "net/minecraft/util/Timer") {
				t.Error("gate fired twice")
			}
		})
	}
}

func TestGateWait(t *testing.T) {
	g := NewGate(Config{Trigger: testTrigger})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait before firing = %v, want deadline exceeded", err)
	}

	go g.Observe(1, "net/minecraft/util/Timer")
	if err := g.Wait(context.Background()); err != nil {
		t.Errorf("Wait = %v", err)
	}
	if g.Record() == nil {
		t.Error("record missing after Wait")
	}
}
