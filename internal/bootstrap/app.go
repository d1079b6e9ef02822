package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-downloader/internal/config"
	"media-downloader/internal/diagnostics"
	"media-downloader/internal/domain"
	"media-downloader/internal/ports"
	"media-downloader/internal/supervisor"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App wires configuration, the worker supervisor, diagnostics, and UI
// runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	workerPath  string

	mu         sync.Mutex
	supervisor *supervisor.Supervisor
	events     *supervisor.EventBus
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".media-downloader", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	workerPath, err := resolveWorkerPath()
	if err != nil {
		return nil, err
	}

	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		workerPath:  workerPath,
		events:      supervisor.NewEventBus(1000),
	}
	app.supervisor = app.buildSupervisor(settings)
	return app, nil
}

// buildSupervisor assembles a fresh supervisor from the given settings.
func (a *App) buildSupervisor(settings domain.Settings) *supervisor.Supervisor {
	return supervisor.New(supervisor.Config{
		WorkerPath:        a.workerPath,
		BasePort:          settings.WorkerBasePort,
		PortWindow:        ports.DefaultWindow,
		DownloadsDir:      settings.DownloadsDir,
		MaxConcurrentJobs: settings.MaxConcurrentJobs,
		FFmpegPath:        settings.FFmpegPath,
		ProxyURL:          settings.ProxyURL,
		RateLimit:         settings.RateLimit,
		OnReady: func(port int) {
			a.publishEvent(supervisor.Event{Type: supervisor.EventTypeReady, Port: port, State: supervisor.StateReady})
		},
		OnFatal: func(err error) {
			a.publishEvent(supervisor.Event{Type: supervisor.EventTypeError, Error: err.Error(), State: supervisor.StateErrored})
		},
		OnLog: func(line string) {
			a.publishEvent(supervisor.Event{Type: supervisor.EventTypeLog, Line: line})
		},
	}, ports.NewAllocator())
}

// resolveWorkerPath locates the worker binary next to the shell
// executable, falling back to PATH.
func resolveWorkerPath() (string, error) {
	name := "media-downloader-worker"
	if goruntime.GOOS == "windows" {
		name += ".exe"
	}

	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), name)
		if info, statErr := os.Stat(sibling); statErr == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("worker binary %s not found next to the app or on PATH", name)
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Media Downloader",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and launches the worker.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	sup := a.supervisor
	a.mu.Unlock()

	a.publishEvent(supervisor.Event{Type: supervisor.EventTypeState, State: supervisor.StateStarting})
	if err := sup.Start(context.Background()); err != nil {
		a.publishEvent(supervisor.Event{
			Type:  supervisor.EventTypeError,
			Error: err.Error(),
			State: supervisor.StateErrored,
		})
	}
}

// Shutdown stops the worker and drops the runtime context.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	sup := a.supervisor
	a.runtimeCtx = nil
	a.mu.Unlock()
	_ = sup.Stop()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// Worker-facing settings (port base, downloads dir, ceiling) take effect on
// the next worker launch.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// WorkerState returns the supervisor lifecycle phase for the UI.
func (a *App) WorkerState() string {
	a.mu.Lock()
	sup := a.supervisor
	a.mu.Unlock()
	return string(sup.State())
}

// WorkerEndpoint returns the worker base URL once it is ready.
func (a *App) WorkerEndpoint() (string, error) {
	a.mu.Lock()
	sup := a.supervisor
	a.mu.Unlock()

	if sup.State() != supervisor.StateReady {
		return "", fmt.Errorf("worker is not ready (state %s)", sup.State())
	}
	return sup.Endpoint(), nil
}

// WorkerEvents returns all worker events with sequence greater than sinceSeq.
func (a *App) WorkerEvents(sinceSeq int64) []supervisor.Event {
	return a.events.Since(sinceSeq)
}

// PickDownloadsDirectory opens a native directory picker for downloads.
func (a *App) PickDownloadsDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select downloads directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenDownloadsFolder opens the given path (or configured downloads dir) in file manager.
func (a *App) OpenDownloadsFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.DownloadsDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("downloads path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve downloads path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event supervisor.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "worker:event", published)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and applies defaults for empty fields.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.DownloadsDir = strings.TrimSpace(settings.DownloadsDir)
	if settings.DownloadsDir == "" {
		settings.DownloadsDir = defaults.DownloadsDir
	}
	if settings.MaxConcurrentJobs <= 0 {
		settings.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if settings.WorkerBasePort <= 0 {
		settings.WorkerBasePort = defaults.WorkerBasePort
	}
	settings.DefaultQuality = strings.TrimSpace(settings.DefaultQuality)
	if settings.DefaultQuality == "" {
		settings.DefaultQuality = defaults.DefaultQuality
	}
	settings.DefaultFormat = strings.TrimSpace(settings.DefaultFormat)
	if settings.DefaultFormat == "" {
		settings.DefaultFormat = defaults.DefaultFormat
	}
	settings.ProxyURL = strings.TrimSpace(settings.ProxyURL)
	settings.RateLimit = strings.TrimSpace(settings.RateLimit)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
