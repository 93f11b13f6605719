// Package watch re-validates the development cache whenever the server
// repository changes on disk, and serves the validation counters over HTTP.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	prom "github.com/prometheus/client_golang/prometheus"

	"paperctl/internal/logfields"
	"paperctl/internal/observability"
)

const debounceDelay = 500 * time.Millisecond

// Checker runs one cache validation pass and reports the verdict kind.
type Checker interface {
	Check(ctx context.Context) (result string, err error)
}

// Watcher observes a repository tree and re-checks the cache after changes
// settle.
type Watcher struct {
	RepoPath    string
	MetricsAddr string // host:port for /metrics; empty disables the server
	Checker     Checker
	Recorder    *observability.Recorder
	Registry    *prom.Registry
}

// Run blocks until ctx is cancelled, re-checking on every settled burst of
// filesystem events. An initial check runs before watching starts.
func (w *Watcher) Run(ctx context.Context) error {
	absRepo, err := filepath.Abs(w.RepoPath)
	if err != nil {
		return fmt.Errorf("resolve repository path: %w", err)
	}
	if st, statErr := os.Stat(absRepo); statErr != nil || !st.IsDir() {
		return fmt.Errorf("repository not found or not a directory: %s", absRepo)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := addDirsRecursive(fw, absRepo); err != nil {
		return err
	}

	srv, srvErr := w.startMetricsServer()
	if srvErr != nil {
		return srvErr
	}

	deb := newDebouncer()
	w.check(ctx)
	go w.checkWorker(ctx, deb.checkReq)

	for {
		select {
		case <-ctx.Done():
			return w.shutdown(srv, deb)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, ev, deb.trigger)
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", logfields.Error(werr))
		}
	}
}

func (w *Watcher) startMetricsServer() (*http.Server, error) {
	if w.MetricsAddr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", w.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HTTPHandler(w.Registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", logfields.Error(serveErr))
		}
	}()
	slog.Info("serving metrics", logfields.URL(fmt.Sprintf("http://%s/metrics", ln.Addr())))
	return srv, nil
}

// debouncer coalesces bursts of events into single check requests. After
// stop, pending timers fire into the void instead of a closed channel.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	checkReq chan struct{}
}

func newDebouncer() *debouncer {
	return &debouncer{checkReq: make(chan struct{}, 1)}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(debounceDelay, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	select {
	case d.checkReq <- struct{}{}:
	default:
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (w *Watcher) checkWorker(ctx context.Context, checkReq chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-checkReq:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	result, err := w.Checker.Check(ctx)
	if err != nil {
		slog.Warn("cache check failed", logfields.Error(err))
		result = "error"
	} else {
		slog.Info("cache checked", slog.String("result", result))
	}
	if w.Recorder != nil {
		w.Recorder.ObserveValidation(result)
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event, trigger func()) {
	if shouldIgnoreEvent(ev.Name) {
		return
	}
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = addDirsRecursive(fw, ev.Name)
		}
	}
	slog.Debug("change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	trigger()
}

func (w *Watcher) shutdown(srv *http.Server, deb *debouncer) error {
	slog.Info("stopping watch")
	deb.stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", logfields.Error(err))
		}
	}
	return nil
}

func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			// Git's object store churns constantly and never affects the
			// worktree status we care about.
			if d.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			if addErr := fw.Add(path); addErr != nil {
				slog.Warn("watch add failed", logfields.Path(path), logfields.Error(addErr))
			}
		}
		return nil
	})
}

// shouldIgnoreEvent filters editor temp files and git internals.
func shouldIgnoreEvent(path string) bool {
	if strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator)) {
		return true
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".part") {
		return true
	}
	return false
}
