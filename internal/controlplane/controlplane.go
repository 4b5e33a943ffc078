// Package controlplane exposes the Scheduler's lifecycle as a small
// command queue consumed by a single handler goroutine, so every mutation
// of scheduler state (pause, manual trigger, shutdown) is serialized
// through one place instead of being called directly from HTTP handlers.
package controlplane

import (
	"context"
	"errors"
	"time"

	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/processor"
	"github.com/fenilsonani/feedmailer/internal/scheduler"
)

// ErrStatusTimeout is returned by GetStatus when the handler does not
// reply within the deadline.
var ErrStatusTimeout = errors.New("controlplane: status request timed out")

// Status is the scheduler's run-state snapshot returned by GetStatus.
type Status = scheduler.Status

// schedulerHandle is the subset of *scheduler.Scheduler the control plane
// depends on, narrowed to an interface so tests can substitute a fake.
type schedulerHandle interface {
	ProcessAllNow()
	ProcessAccountNow(ctx context.Context, accountID string) (*processor.ProcessingResult, error)
	Pause()
	Resume()
	Status() Status
}

type commandKind int

const (
	cmdProcessAllNow commandKind = iota
	cmdProcessAccountNow
	cmdPause
	cmdResume
	cmdReloadConfig
	cmdGetStatus
	cmdShutdown
)

type command struct {
	kind      commandKind
	accountID string
	reply     chan Status
}

// Plane serializes scheduler lifecycle commands through a single consumer
// goroutine. The zero value is not usable; construct with New.
type Plane struct {
	sched   schedulerHandle
	logger  *logging.Logger
	queue   chan command
	stopped chan struct{}
}

// New builds a Plane wired to sched. Run must be called to start consuming
// commands; the command channel is unbuffered, so every enqueue call blocks
// until Run's handler goroutine is ready to receive it.
func New(sched schedulerHandle, logger *logging.Logger) *Plane {
	return &Plane{
		sched:   sched,
		logger:  logger,
		queue:   make(chan command),
		stopped: make(chan struct{}),
	}
}

// Run consumes commands until Shutdown is processed or ctx is cancelled.
// It blocks, so callers typically run it in its own goroutine.
func (p *Plane) Run(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.queue:
			if p.handle(ctx, cmd) {
				return
			}
		}
	}
}

// handle processes one command and reports whether the handler loop
// should exit (true only for Shutdown).
func (p *Plane) handle(ctx context.Context, cmd command) bool {
	switch cmd.kind {
	case cmdProcessAllNow:
		p.sched.ProcessAllNow()

	case cmdProcessAccountNow:
		if _, err := p.sched.ProcessAccountNow(ctx, cmd.accountID); err != nil {
			p.logger.Warn("controlplane: manual processing failed", "account_id", cmd.accountID, "error", err)
		}

	case cmdPause:
		p.sched.Pause()

	case cmdResume:
		p.sched.Resume()

	case cmdReloadConfig:
		p.logger.Info("controlplane: config reload acknowledged, restart required to apply")

	case cmdGetStatus:
		status := p.sched.Status()
		select {
		case cmd.reply <- status:
		default:
		}

	case cmdShutdown:
		p.logger.Info("controlplane: shutdown requested")
		return true
	}
	return false
}

// ProcessAllNow enqueues an immediate processing tick.
func (p *Plane) ProcessAllNow() {
	p.enqueue(command{kind: cmdProcessAllNow})
}

// ProcessAccountNow enqueues a manual run for one account.
func (p *Plane) ProcessAccountNow(accountID string) {
	p.enqueue(command{kind: cmdProcessAccountNow, accountID: accountID})
}

// Pause enqueues a pause toggle.
func (p *Plane) Pause() {
	p.enqueue(command{kind: cmdPause})
}

// Resume enqueues a resume toggle.
func (p *Plane) Resume() {
	p.enqueue(command{kind: cmdResume})
}

// ReloadConfig enqueues a config reload acknowledgement. The current
// implementation always requires a process restart to actually apply new
// configuration.
func (p *Plane) ReloadConfig() {
	p.enqueue(command{kind: cmdReloadConfig})
}

// Shutdown enqueues a handler-loop termination.
func (p *Plane) Shutdown() {
	p.enqueue(command{kind: cmdShutdown})
}

// GetStatus enqueues a status snapshot request and waits up to 5 seconds
// for the handler to reply.
func (p *Plane) GetStatus() (Status, error) {
	reply := make(chan Status, 1)
	p.enqueue(command{kind: cmdGetStatus, reply: reply})

	select {
	case status := <-reply:
		return status, nil
	case <-time.After(5 * time.Second):
		return Status{}, ErrStatusTimeout
	}
}

func (p *Plane) enqueue(cmd command) {
	p.queue <- cmd
}
