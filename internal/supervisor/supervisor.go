package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ReadyToken is the exact marker the worker prints to stdout once its
// HTTP listener is accepting connections.
const ReadyToken = "MEDIA_WORKER_READY"

// DefaultGracePeriod bounds how long Stop waits between SIGTERM and
// SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// State is the supervisor lifecycle phase.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateErrored    State = "errored"
)

// ErrAlreadyStarted is returned when Start is called outside NotStarted.
var ErrAlreadyStarted = errors.New("worker already started")

// PortAllocator finds a free loopback port for the worker.
type PortAllocator interface {
	Allocate(base, window int) (int, error)
}

// Config describes how to launch and observe the worker process.
type Config struct {
	WorkerPath        string
	Host              string
	BasePort          int
	PortWindow        int
	DownloadsDir      string
	MaxConcurrentJobs int
	FFmpegPath        string
	ProxyURL          string
	RateLimit         string
	GracePeriod       time.Duration

	// OnReady fires exactly once, when the worker prints the readiness
	// token. OnFatal fires exactly once, on an unexpected worker exit.
	OnReady func(port int)
	OnFatal func(err error)
	OnLog   func(line string)
}

// Supervisor owns the worker process handle. All state transitions go
// through its mutex; callbacks are invoked outside the lock.
type Supervisor struct {
	cfg       Config
	allocator PortAllocator

	// newCommand is the process seam for tests.
	newCommand func(port int) *exec.Cmd

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	port   int
	exited chan struct{}

	readyOnce sync.Once
	fatalOnce sync.Once
}

// New builds a supervisor in the NotStarted state.
func New(cfg Config, allocator PortAllocator) *Supervisor {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	s := &Supervisor{
		cfg:       cfg,
		allocator: allocator,
		state:     StateNotStarted,
	}
	s.newCommand = s.buildWorkerCommand
	return s
}

// State returns the current lifecycle phase.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the allocated worker port, zero before Start succeeds.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Endpoint returns the worker base URL, empty before Start succeeds.
func (s *Supervisor) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.port)
}

// Start allocates a port, launches the worker, and begins scanning its
// stdout for the readiness token. It returns once the process is
// launched; readiness arrives later through OnReady.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}

	port, err := s.allocator.Allocate(s.cfg.BasePort, s.cfg.PortWindow)
	if err != nil {
		s.state = StateErrored
		s.mu.Unlock()
		return fmt.Errorf("allocate worker port: %w", err)
	}

	cmd := s.newCommand(port)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state = StateErrored
		s.mu.Unlock()
		return fmt.Errorf("worker stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state = StateErrored
		s.mu.Unlock()
		return fmt.Errorf("worker stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.state = StateErrored
		s.mu.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}

	s.cmd = cmd
	s.port = port
	s.state = StateStarting
	s.exited = make(chan struct{})
	s.mu.Unlock()

	go s.scanStdout(bufio.NewScanner(stdout))
	go s.forwardLines(bufio.NewScanner(stderr))
	go s.waitExit(cmd)
	return nil
}

// buildWorkerCommand assembles the worker invocation. Everything the
// worker needs arrives via explicit flags and a minimal environment; it
// never reads the shell's settings file.
func (s *Supervisor) buildWorkerCommand(port int) *exec.Cmd {
	args := []string{
		"--host", s.cfg.Host,
		"--port", strconv.Itoa(port),
		"--downloads-dir", s.cfg.DownloadsDir,
		"--max-concurrent", strconv.Itoa(s.cfg.MaxConcurrentJobs),
	}
	if s.cfg.FFmpegPath != "" {
		args = append(args, "--ffmpeg-path", s.cfg.FFmpegPath)
	}
	if s.cfg.ProxyURL != "" {
		args = append(args, "--proxy", s.cfg.ProxyURL)
	}
	if s.cfg.RateLimit != "" {
		args = append(args, "--rate-limit", s.cfg.RateLimit)
	}
	cmd := exec.Command(s.cfg.WorkerPath, args...)
	cmd.Stdin = nil
	cmd.Env = workerEnv()
	return cmd
}

// workerEnv keeps only what the worker and its child tools need.
func workerEnv() []string {
	env := []string{"LC_ALL=C.UTF-8", "LANG=C.UTF-8"}
	for _, key := range []string{"PATH", "HOME", "TMPDIR", "USERPROFILE", "SYSTEMROOT"} {
		if value := os.Getenv(key); value != "" {
			env = append(env, key+"="+value)
		}
	}
	return env
}

// scanStdout reads worker stdout for the supervisor's lifetime. The
// first line containing the readiness token flips Starting to Ready;
// every other line goes to the log sink.
func (s *Supervisor) scanStdout(scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, ReadyToken) {
			s.markReady()
			continue
		}
		s.logLine(line)
	}
}

// forwardLines sends worker stderr to the log sink.
func (s *Supervisor) forwardLines(scanner *bufio.Scanner) {
	for scanner.Scan() {
		s.logLine(scanner.Text())
	}
}

func (s *Supervisor) logLine(line string) {
	if s.cfg.OnLog != nil {
		s.cfg.OnLog(line)
	}
}

func (s *Supervisor) markReady() {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	port := s.port
	s.mu.Unlock()

	s.readyOnce.Do(func() {
		if s.cfg.OnReady != nil {
			s.cfg.OnReady(port)
		}
	})
}

// waitExit reaps the worker. An exit while not Stopping is fatal and
// reported exactly once.
func (s *Supervisor) waitExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	stopping := s.state == StateStopping
	if stopping {
		s.state = StateStopped
	} else {
		s.state = StateErrored
	}
	exited := s.exited
	s.mu.Unlock()
	close(exited)

	if stopping {
		return
	}
	s.fatalOnce.Do(func() {
		if s.cfg.OnFatal != nil {
			s.cfg.OnFatal(formatWorkerExit(err))
		}
	})
}

func formatWorkerExit(err error) error {
	if err == nil {
		return errors.New("worker exited unexpectedly (exit code 0)")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("worker exited unexpectedly (exit code %d)", exitErr.ExitCode())
	}
	return fmt.Errorf("worker exited unexpectedly: %w", err)
}

// Stop shuts the worker down: SIGTERM, a bounded grace wait, then
// SIGKILL. Calling Stop before Start, twice, or after a worker failure
// is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateReady:
	default:
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	proc := s.cmd.Process
	exited := s.exited
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone or signalling unsupported; fall through to the
		// grace wait so the reaper can finish.
		_ = proc.Kill()
	}

	select {
	case <-exited:
	case <-time.After(s.cfg.GracePeriod):
		_ = proc.Kill()
		<-exited
	}
	return nil
}

// NewForTests builds a supervisor with an injectable process factory.
func NewForTests(cfg Config, allocator PortAllocator, newCommand func(port int) *exec.Cmd) *Supervisor {
	s := New(cfg, allocator)
	if newCommand != nil {
		s.newCommand = newCommand
	}
	return s
}
