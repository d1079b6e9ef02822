package supervisor

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

type fixedAllocator struct {
	port int
	err  error
}

func (f fixedAllocator) Allocate(base, window int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.port, nil
}

// shellCommand builds a worker stand-in from a shell script.
func shellCommand(script string) func(port int) *exec.Cmd {
	return func(port int) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

// waitForState polls until the supervisor reaches the wanted state.
func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("worker stand-in needs sh")
	}
}

// TestStartBecomesReady checks the readiness handshake end to end.
func TestStartBecomesReady(t *testing.T) {
	requireUnix(t)
	readyPorts := make(chan int, 4)
	s := NewForTests(Config{
		BasePort: 5000,
		OnReady:  func(port int) { readyPorts <- port },
	}, fixedAllocator{port: 5003}, shellCommand("echo MEDIA_WORKER_READY; sleep 5"))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, s, StateReady)

	select {
	case port := <-readyPorts:
		if port != 5003 {
			t.Fatalf("ready port = %d, want 5003", port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady never fired")
	}
	if got := s.Endpoint(); got != "http://127.0.0.1:5003" {
		t.Fatalf("endpoint = %q", got)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state after stop = %s", s.State())
	}
	select {
	case <-readyPorts:
		t.Fatal("OnReady fired more than once")
	default:
	}
}

// TestReadyNotificationFiresOnce checks a repeated token is ignored.
func TestReadyNotificationFiresOnce(t *testing.T) {
	requireUnix(t)
	var mu sync.Mutex
	readyCount := 0
	s := NewForTests(Config{
		OnReady: func(port int) {
			mu.Lock()
			readyCount++
			mu.Unlock()
		},
	}, fixedAllocator{port: 5000}, shellCommand("echo MEDIA_WORKER_READY; echo MEDIA_WORKER_READY; sleep 5"))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, s, StateReady)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := readyCount
	mu.Unlock()
	if got != 1 {
		t.Fatalf("ready notifications = %d, want 1", got)
	}
	_ = s.Stop()
}

// TestWorkerLinesReachLogSink checks non-token output is forwarded.
func TestWorkerLinesReachLogSink(t *testing.T) {
	requireUnix(t)
	lines := make(chan string, 8)
	s := NewForTests(Config{
		OnLog: func(line string) { lines <- line },
	}, fixedAllocator{port: 5000}, shellCommand("echo booting; echo MEDIA_WORKER_READY; echo serving; sleep 5"))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, s, StateReady)

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-deadline:
			t.Fatalf("log lines = %v", got)
		}
	}
	for _, line := range got {
		if strings.Contains(line, ReadyToken) {
			t.Fatalf("readiness token leaked to log sink: %q", line)
		}
	}
	_ = s.Stop()
}

// TestUnexpectedExitReportsFatalOnce checks the crash path.
func TestUnexpectedExitReportsFatalOnce(t *testing.T) {
	requireUnix(t)
	fatals := make(chan error, 4)
	s := NewForTests(Config{
		OnFatal: func(err error) { fatals <- err },
	}, fixedAllocator{port: 5000}, shellCommand("exit 3"))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, s, StateErrored)

	select {
	case err := <-fatals:
		if !strings.Contains(err.Error(), "exit code 3") {
			t.Fatalf("fatal error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal never fired")
	}
	select {
	case err := <-fatals:
		t.Fatalf("OnFatal fired twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Stop after a crash is a no-op.
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() after crash error = %v", err)
	}
	if s.State() != StateErrored {
		t.Fatalf("state = %s, want errored to stick", s.State())
	}
}

// TestCrashAfterReadyReportsFatal checks a mid-flight worker death.
func TestCrashAfterReadyReportsFatal(t *testing.T) {
	requireUnix(t)
	fatals := make(chan error, 1)
	s := NewForTests(Config{
		OnFatal: func(err error) { fatals <- err },
	}, fixedAllocator{port: 5000}, shellCommand("echo MEDIA_WORKER_READY; sleep 0.1; exit 1"))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, s, StateReady)
	waitForState(t, s, StateErrored)

	select {
	case err := <-fatals:
		if !strings.Contains(err.Error(), "exit code 1") {
			t.Fatalf("fatal error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal never fired")
	}
}

// TestStopBeforeStartIsNoop checks idempotent stop semantics.
func TestStopBeforeStartIsNoop(t *testing.T) {
	s := New(Config{}, fixedAllocator{port: 5000})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateNotStarted {
		t.Fatalf("state = %s, want not_started", s.State())
	}
}

// TestStopTwiceIsNoop checks the second stop returns immediately.
func TestStopTwiceIsNoop(t *testing.T) {
	requireUnix(t)
	s := NewForTests(Config{}, fixedAllocator{port: 5000}, shellCommand("echo MEDIA_WORKER_READY; sleep 5"))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, s, StateReady)

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
}

// TestStartTwiceFails checks Start requires the NotStarted state.
func TestStartTwiceFails(t *testing.T) {
	requireUnix(t)
	s := NewForTests(Config{}, fixedAllocator{port: 5000}, shellCommand("sleep 5"))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	_ = s.Stop()
}

// TestStartFailsWhenPortsExhausted checks the fatal allocation path.
func TestStartFailsWhenPortsExhausted(t *testing.T) {
	wantErr := errors.New("no free port")
	s := New(Config{}, fixedAllocator{err: wantErr})
	if err := s.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Start() error = %v, want allocation failure", err)
	}
	if s.State() != StateErrored {
		t.Fatalf("state = %s, want errored", s.State())
	}
}

// TestStopKillsStubbornWorker checks the grace period escalation.
func TestStopKillsStubbornWorker(t *testing.T) {
	requireUnix(t)
	s := NewForTests(Config{
		GracePeriod: 100 * time.Millisecond,
	}, fixedAllocator{port: 5000}, shellCommand(`trap '' TERM; echo MEDIA_WORKER_READY; sleep 30`))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, s, StateReady)

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not escalate to kill")
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
}

// TestBuildWorkerCommandArgs checks the explicit flag contract.
func TestBuildWorkerCommandArgs(t *testing.T) {
	s := New(Config{
		WorkerPath:        "/opt/bin/worker",
		DownloadsDir:      "/data/dl",
		MaxConcurrentJobs: 3,
		FFmpegPath:        "/opt/bin/ffmpeg",
	}, fixedAllocator{port: 5002})

	cmd := s.buildWorkerCommand(5002)
	want := []string{
		"/opt/bin/worker",
		"--host", "127.0.0.1",
		"--port", "5002",
		"--downloads-dir", "/data/dl",
		"--max-concurrent", "3",
		"--ffmpeg-path", "/opt/bin/ffmpeg",
	}
	if len(cmd.Args) != len(want) {
		t.Fatalf("args = %v", cmd.Args)
	}
	for i, arg := range want {
		if cmd.Args[i] != arg {
			t.Fatalf("args[%d] = %q, want %q", i, cmd.Args[i], arg)
		}
	}

	var hasEncoding bool
	for _, kv := range cmd.Env {
		if kv == "LC_ALL=C.UTF-8" {
			hasEncoding = true
		}
	}
	if !hasEncoding {
		t.Fatalf("env missing UTF-8 mode: %v", cmd.Env)
	}
}
