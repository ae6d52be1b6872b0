// Command displayvm-sim drives a full secure-session handoff between a
// primary and a trusted domain over an in-process resource manager. It
// exists to exercise the ownership protocol end to end and to show the
// call order real integrations must follow.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/trustui/displayvm/internal/config"
	"github.com/trustui/displayvm/internal/pipeline"
	"github.com/trustui/displayvm/internal/resmgr"
	"github.com/trustui/displayvm/internal/vm"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "displayvm-sim: %v\n", err)
		os.Exit(1)
	}
}

var defaultConfig = []byte(`enabled: true
variant: primary
display: display0
irqs:
  - { label: 1, line: 33 }
  - { label: 2, line: 34 }
  - { label: 3, line: 35 }
memory:
  - { base: 0xae00000, size: 0x100000 }
  - { base: 0x9e000000, size: 0x2300000 }
`)

func run() error {
	configPath := flag.String("config", "", "path to a displayvm config file (defaults to a built-in demo config)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		opts.AddSource = true
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.Parse(defaultConfig)
	}
	if err != nil {
		return err
	}

	if !cfg.Enabled {
		layer := vm.Disabled()
		slog.Info("ownership transfer disabled",
			"enabled", layer.Enabled(), "ownsHardware", layer.Ops().OwnsHardware())
		return nil
	}

	lb := resmgr.NewLoopback()
	pipe := cfg.Pipeline()

	primary, err := vm.InitPrimary(pipe, lb.Client(resmgr.DomainPrimary))
	if err != nil {
		return fmt.Errorf("init primary: %w", err)
	}
	defer primary.Deinit()

	trusted, err := vm.InitTrusted(pipe, lb.Client(resmgr.DomainTrusted),
		cfg.IRQDescriptor(), cfg.SGLDescriptor())
	if err != nil {
		return fmt.Errorf("init trusted: %w", err)
	}
	defer trusted.Deinit()

	primary.RegisterClient(&loggingClient{domain: "primary"})
	trusted.RegisterClient(&loggingClient{domain: "trusted"})

	sim := &session{display: cfg.Display, lb: lb, primary: primary, trusted: trusted}
	return sim.runOnce()
}

// session walks one display through a complete secure-session lifecycle.
type session struct {
	display string
	lb      *resmgr.Loopback

	// commitMu stands in for the pipeline's commit lock. It is always
	// taken before a layer's own lock.
	commitMu sync.Mutex

	primary *vm.Layer
	trusted *vm.Layer
}

func (s *session) runOnce() error {
	slog.Info("starting secure session", "display", s.display)

	if err := s.primary.Ops().RequestValid(pipeline.ReqNone, pipeline.ReqSessionRequested); err != nil {
		return err
	}
	if err := s.commit(s.primary, "primary", pipeline.ReqSessionRequested, pipeline.ReqSessionActive); err != nil {
		return err
	}
	s.lb.Settle()

	if err := s.commit(s.trusted, "trusted", pipeline.ReqSessionRequested, pipeline.ReqSessionActive); err != nil {
		return err
	}
	s.report()

	slog.Info("ending secure session", "display", s.display)
	if err := s.commit(s.trusted, "trusted", pipeline.ReqSessionActive, pipeline.ReqReleaseRequested); err != nil {
		return err
	}
	s.lb.Settle()

	if err := s.commit(s.primary, "primary", pipeline.ReqReleaseRequested, pipeline.ReqNone); err != nil {
		return err
	}
	s.lb.Settle()
	s.report()

	slog.Info("handoff cycle complete", "outstandingTransfers", s.lb.Outstanding())
	return nil
}

// commit brackets one atomic commit the way a display pipeline would:
// commit lock, then layer lock, prepare hook, hardware programming, post
// hook.
func (s *session) commit(layer *vm.Layer, domain string, old, new pipeline.Req) error {
	state := &pipeline.CommitState{Displays: []pipeline.DisplayState{
		{Display: s.display, Old: old, New: new},
	}}

	if err := layer.Ops().RequestValid(old, new); err != nil {
		return fmt.Errorf("%s commit: %w", domain, err)
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	layer.Lock()
	defer layer.Unlock()

	ops := layer.Ops()
	if err := ops.PrepareCommit(state); err != nil {
		return fmt.Errorf("%s prepare commit: %w", domain, err)
	}
	slog.Debug("programming hardware", "domain", domain, "display", s.display,
		"transition", fmt.Sprintf("%s -> %s", old, new))
	if err := ops.PostCommit(state); err != nil {
		return fmt.Errorf("%s post commit: %w", domain, err)
	}
	return nil
}

func (s *session) report() {
	s.primary.Lock()
	primaryOwns := s.primary.Ops().OwnsHardware()
	s.primary.Unlock()
	s.trusted.Lock()
	trustedOwns := s.trusted.Ops().OwnsHardware()
	s.trusted.Unlock()
	slog.Info("ownership state", "primaryOwns", primaryOwns, "trustedOwns", trustedOwns)
}

// loggingClient stands in for a driver component that saves and restores
// hardware-dependent state around a handoff.
type loggingClient struct {
	domain string
}

func (c *loggingClient) Ready() error {
	slog.Debug("client ready", "domain", c.domain)
	return nil
}

func (c *loggingClient) PreRelease() error {
	slog.Info("client saving state before release", "domain", c.domain)
	return nil
}

func (c *loggingClient) PostAcquire() error {
	slog.Info("client restoring state after acquire", "domain", c.domain)
	return nil
}
