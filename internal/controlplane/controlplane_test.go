package controlplane

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/processor"
)

type fakeScheduler struct {
	mu             sync.Mutex
	processAllHits int
	processedIDs   []string
	paused         bool
	status         Status
}

func (f *fakeScheduler) ProcessAllNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processAllHits++
}

func (f *fakeScheduler) ProcessAccountNow(_ context.Context, accountID string) (*processor.ProcessingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedIDs = append(f.processedIDs, accountID)
	return &processor.ProcessingResult{AccountID: accountID}, nil
}

func (f *fakeScheduler) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeScheduler) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }

func (f *fakeScheduler) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	s.IsPaused = f.paused
	return s
}

func testLogger() *logging.Logger {
	l, _ := logging.New(logging.Config{Level: "error", Format: "json", Output: "stdout"})
	return l
}

func runPlane(t *testing.T, sched *fakeScheduler) (*Plane, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := New(sched, testLogger())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return p, func() {
		cancel()
		<-done
	}
}

func TestGetStatus_ReturnsSchedulerSnapshot(t *testing.T) {
	sched := &fakeScheduler{status: Status{IsRunning: true, TotalProcessed: 7}}
	p, stop := runPlane(t, sched)
	defer stop()

	status, err := p.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if !status.IsRunning || status.TotalProcessed != 7 {
		t.Errorf("GetStatus() = %+v, want IsRunning=true TotalProcessed=7", status)
	}
}

func TestPauseAndResume_ReachScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	p, stop := runPlane(t, sched)
	defer stop()

	p.Pause()
	waitFor(t, func() bool { s, _ := p.GetStatus(); return s.IsPaused })

	p.Resume()
	waitFor(t, func() bool { s, _ := p.GetStatus(); return !s.IsPaused })
}

func TestProcessAccountNow_ReachesScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	p, stop := runPlane(t, sched)
	defer stop()

	p.ProcessAccountNow("acct1")
	p.GetStatus() // flushes the queue: GetStatus is processed strictly after prior enqueues

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.processedIDs) != 1 || sched.processedIDs[0] != "acct1" {
		t.Errorf("expected acct1 to be processed, got %v", sched.processedIDs)
	}
}

func TestProcessAllNow_ReachesScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	p, stop := runPlane(t, sched)
	defer stop()

	p.ProcessAllNow()
	p.GetStatus()

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if sched.processAllHits != 1 {
		t.Errorf("processAllHits = %d, want 1", sched.processAllHits)
	}
}

func TestShutdown_StopsHandlerLoop(t *testing.T) {
	sched := &fakeScheduler{}
	ctx := context.Background()
	p := New(sched, testLogger())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	p.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Shutdown to stop the handler loop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
