package bootstrap

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"media-downloader/internal/domain"
	"media-downloader/internal/supervisor"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
	saved    []domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save records the persisted settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.settings = settings
	s.saved = append(s.saved, settings)
	return nil
}

type fixedAllocator struct {
	port int
}

func (f fixedAllocator) Allocate(base, window int) (int, error) {
	return f.port, nil
}

// newTestApp assembles an App around a shell-script worker stand-in.
func newTestApp(store *fakeStore, script string, port int) *App {
	app := &App{
		Settings: store.settings,
		Store:    store,
		events:   supervisor.NewEventBus(100),
	}
	app.supervisor = supervisor.NewForTests(supervisor.Config{
		BasePort: port,
		OnReady: func(p int) {
			app.publishEvent(supervisor.Event{Type: supervisor.EventTypeReady, Port: p, State: supervisor.StateReady})
		},
		OnFatal: func(err error) {
			app.publishEvent(supervisor.Event{Type: supervisor.EventTypeError, Error: err.Error(), State: supervisor.StateErrored})
		},
		OnLog: func(line string) {
			app.publishEvent(supervisor.Event{Type: supervisor.EventTypeLog, Line: line})
		},
	}, fixedAllocator{port: port}, func(int) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	})
	return app
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("worker stand-in needs sh")
	}
}

// waitForWorkerState polls until the supervised worker reaches a state.
func waitForWorkerState(t *testing.T, app *App, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if app.WorkerState() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("worker state = %s, want %s", app.WorkerState(), want)
}

// TestStartupLaunchesWorkerAndPublishesReady checks the handshake events.
func TestStartupLaunchesWorkerAndPublishesReady(t *testing.T) {
	requireUnix(t)
	store := &fakeStore{settings: domain.Settings{DownloadsDir: t.TempDir(), MaxConcurrentJobs: 3}}
	app := newTestApp(store, "echo MEDIA_WORKER_READY; sleep 5", 5010)

	app.Startup(context.Background())
	waitForWorkerState(t, app, string(supervisor.StateReady))

	endpoint, err := app.WorkerEndpoint()
	if err != nil {
		t.Fatalf("WorkerEndpoint() error = %v", err)
	}
	if endpoint != "http://127.0.0.1:5010" {
		t.Fatalf("endpoint = %q", endpoint)
	}

	events := app.WorkerEvents(0)
	assertEventTypeExists(t, events, supervisor.EventTypeReady)

	app.Shutdown(context.Background())
	if app.WorkerState() != string(supervisor.StateStopped) {
		t.Fatalf("state after shutdown = %s", app.WorkerState())
	}
}

// TestWorkerEndpointBeforeReadyFails checks the not-ready guard.
func TestWorkerEndpointBeforeReadyFails(t *testing.T) {
	store := &fakeStore{settings: domain.Settings{}}
	app := newTestApp(store, "sleep 5", 5010)

	if _, err := app.WorkerEndpoint(); err == nil {
		t.Fatal("expected error before worker is ready")
	}
}

// TestWorkerCrashPublishesErrorEvent checks the fatal event path.
func TestWorkerCrashPublishesErrorEvent(t *testing.T) {
	requireUnix(t)
	store := &fakeStore{settings: domain.Settings{}}
	app := newTestApp(store, "exit 2", 5010)

	app.Startup(context.Background())
	waitForWorkerState(t, app, string(supervisor.StateErrored))

	events := app.WorkerEvents(0)
	assertEventTypeExists(t, events, supervisor.EventTypeError)
}

// TestWorkerLogLinesBecomeEvents checks forwarding of worker output.
func TestWorkerLogLinesBecomeEvents(t *testing.T) {
	requireUnix(t)
	store := &fakeStore{settings: domain.Settings{}}
	app := newTestApp(store, "echo starting engine; echo MEDIA_WORKER_READY; sleep 5", 5010)

	app.Startup(context.Background())
	waitForWorkerState(t, app, string(supervisor.StateReady))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hasEventType(app.WorkerEvents(0), supervisor.EventTypeLog) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assertEventTypeExists(t, app.WorkerEvents(0), supervisor.EventTypeLog)
	app.Shutdown(context.Background())
}

// TestSaveSettingsAppliesDefaults checks normalization of empty fields.
func TestSaveSettingsAppliesDefaults(t *testing.T) {
	store := &fakeStore{}
	app := &App{Store: store, events: supervisor.NewEventBus(10)}

	saved, err := app.SaveSettings(domain.Settings{DownloadsDir: "  /data/dl  "})
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	if saved.DownloadsDir != "/data/dl" {
		t.Fatalf("downloads dir = %q", saved.DownloadsDir)
	}
	if saved.MaxConcurrentJobs != 3 {
		t.Fatalf("max concurrent = %d, want default 3", saved.MaxConcurrentJobs)
	}
	if saved.WorkerBasePort != 5000 {
		t.Fatalf("base port = %d, want default 5000", saved.WorkerBasePort)
	}
	if saved.DefaultQuality != "best" || saved.DefaultFormat != "mp4" {
		t.Fatalf("quality/format = %q/%q", saved.DefaultQuality, saved.DefaultFormat)
	}
	if len(store.saved) != 1 {
		t.Fatalf("save calls = %d, want 1", len(store.saved))
	}
}

// TestGetQualityOptionsPutsPreferredFirst checks catalog ordering.
func TestGetQualityOptionsPutsPreferredFirst(t *testing.T) {
	app := &App{Settings: domain.Settings{DefaultQuality: "720p"}}

	options := app.GetQualityOptions()
	if len(options) != len(qualityCatalog) {
		t.Fatalf("len = %d, want %d", len(options), len(qualityCatalog))
	}
	if options[0].ID != "720p" {
		t.Fatalf("first option = %s, want 720p", options[0].ID)
	}
}

// TestSetDefaultQuality checks persistence of a chosen preset.
func TestSetDefaultQuality(t *testing.T) {
	store := &fakeStore{}
	app := &App{Store: store, events: supervisor.NewEventBus(10)}

	saved, err := app.SetDefaultQuality("audio")
	if err != nil {
		t.Fatalf("SetDefaultQuality() error = %v", err)
	}
	if saved.DefaultQuality != "audio" || saved.DefaultFormat != "mp3" {
		t.Fatalf("saved = %q/%q", saved.DefaultQuality, saved.DefaultFormat)
	}

	if _, err := app.SetDefaultQuality("8K"); err == nil {
		t.Fatal("expected error for unknown quality id")
	}
}

// hasEventType reports whether any event of the given type exists.
func hasEventType(events []supervisor.Event, want supervisor.EventType) bool {
	for _, event := range events {
		if event.Type == want {
			return true
		}
	}
	return false
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []supervisor.Event, want supervisor.EventType) {
	t.Helper()
	if !hasEventType(events, want) {
		t.Fatalf("event type %s not found", want)
	}
}
