package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"wbkfs/internal/metrics"
	"wbkfs/internal/storage"
	"wbkfs/internal/util"
	wbkvfs "wbkfs/internal/vfs"
)

func init() {
	// Default logging to discard until a level is configured
	log.SetOutput(io.Discard)
}

// maxLogSize is the size above which the log file is truncated on start.
const maxLogSize = 50 * 1024 * 1024

// Daemon serves one volume over NFS (or SMB) and answers control requests on
// a unix socket. The volume lives exactly as long as the daemon.
type Daemon struct {
	ipcServer *Server
	logFile   *os.File
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lock      *flock.Flock

	// Settings overrides the settings file when non-nil.
	Settings *GlobalSettings

	// LogLevel overrides Settings.LogLevel: trace, debug, info, warn, none.
	LogLevel string

	// LogToStderr sends logs to stderr instead of the log file.
	LogToStderr bool

	session    string
	startedAt  time.Time
	settings   GlobalSettings
	vol        *storage.Volume
	fs         *wbkvfs.BackupFS
	server     NetFSServer
	metricsSrv *http.Server

	// ready is closed once the file server and IPC socket are up.
	ready chan struct{}
}

// New creates a new daemon instance
func New() *Daemon {
	return &Daemon{
		stopCh:  make(chan struct{}),
		session: uuid.NewString(),
		ready:   make(chan struct{}),
	}
}

// Ready is closed when the daemon accepts file and control requests.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Session identifies this daemon run.
func (d *Daemon) Session() string {
	return d.session
}

// Stop asks Run to shut down
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Run starts the daemon and blocks until stopped
func (d *Daemon) Run() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	if d.Settings != nil {
		d.settings = *d.Settings
	} else {
		settings, err := LoadGlobalSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		d.settings = *settings
	}
	if d.LogLevel != "" {
		d.settings.LogLevel = d.LogLevel
	}
	if err := d.settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if result := CleanupStale(); result.CleanedPidFile || result.CleanedSocket {
		fmt.Fprintln(os.Stderr, FormatCleanupResult(result))
	}

	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	if err := d.setupLogging(); err != nil {
		return err
	}
	if d.logFile != nil {
		defer d.logFile.Close()
	}

	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	log.Infof("[Daemon] started (PID %d, session %s)", os.Getpid(), d.session)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	d.vol, err = storage.NewVolume(storage.Options{
		MaxBuffers: d.settings.MaxBuffers,
		Uid:        uint32(os.Getuid()),
		Gid:        uint32(os.Getgid()),
	})
	if err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}
	defer d.vol.Close()

	d.fs = wbkvfs.NewBackupFS(d.vol, wbkvfs.Options{
		WritePolicy:    d.settings.Policy(),
		BackupExcludes: d.settings.BackupExcludes,
		AttrCacheTTL:   d.settings.AttrCacheTTL(),
		Metrics:        m,
	})

	if err := d.startFileServer(); err != nil {
		return err
	}
	defer d.stopFileServer()

	if d.settings.MetricsAddr != "" {
		if err := d.startMetricsServer(reg); err != nil {
			return err
		}
		defer d.stopMetricsServer()
	}

	d.startedAt = time.Now()
	d.ipcServer = NewServer(d.handleRequest)
	if err := d.ipcServer.Start(); err != nil {
		return err
	}
	defer d.ipcServer.Stop()
	log.Infof("[Daemon] control socket at %s", SocketPath())

	d.watchParent()
	close(d.ready)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("[Daemon] received signal %v, shutting down", sig)
	case <-d.stopCh:
		log.Infof("[Daemon] stop requested, shutting down")
	}
	return nil
}

// setupLogging routes logrus to the log file (or stderr) at the configured
// level. "none" keeps logging discarded.
func (d *Daemon) setupLogging() error {
	level := strings.ToLower(d.settings.LogLevel)
	if level == "" || level == "none" || level == "off" {
		log.SetOutput(io.Discard)
		return nil
	}

	if d.LogToStderr {
		log.SetOutput(os.Stderr)
	} else {
		if err := truncateLogFile(LogPath(), maxLogSize); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
		}
		logFile, err := os.OpenFile(LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		d.logFile = logFile
		log.SetOutput(logFile)
	}

	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	}
	return nil
}

func (d *Daemon) startFileServer() error {
	srv := newNetFSServer(d.fs, d.settings.ShareName)
	addr := d.settings.ListenAddr

	errCh := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := srv.Serve(addr); err != nil {
			errCh <- err
		}
	}()

	if err := waitForAddr(addr, 3*time.Second, errCh); err != nil {
		srv.Shutdown()
		return fmt.Errorf("%s server failed to start: %w", NetFSType(), err)
	}
	d.server = srv
	log.Infof("[Daemon] %s server listening on %s (share %q)", NetFSType(), addr, d.settings.ShareName)
	return nil
}

func (d *Daemon) stopFileServer() {
	if d.server == nil {
		return
	}
	d.server.Shutdown()
	d.server = nil
	if n := d.fs.ReleaseHandles(); n > 0 {
		log.Infof("[Daemon] released %d open handles", n)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		log.Warnf("[Daemon] timeout waiting for server goroutines")
	}
}

func (d *Daemon) startMetricsServer(reg *prometheus.Registry) error {
	listener, err := net.Listen("tcp", d.settings.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	d.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := d.metricsSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[Daemon] metrics server: %v", err)
		}
	}()
	log.Infof("[Daemon] metrics at http://%s/metrics", listener.Addr())
	return nil
}

func (d *Daemon) stopMetricsServer() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.metricsSrv.Shutdown(ctx)
}

// watchParent stops the daemon when the process named by WBKFS_PARENT_PID
// exits, so test runs that are killed do not leave daemons behind.
func (d *Daemon) watchParent() {
	ppid, err := strconv.Atoi(os.Getenv("WBKFS_PARENT_PID"))
	if err != nil || ppid <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				if !util.IsProcessRunning(ppid) {
					log.Infof("[Daemon] parent process %d exited, shutting down", ppid)
					d.Stop()
					return
				}
			}
		}
	}()
}

// handleRequest processes an IPC request
func (d *Daemon) handleRequest(req *Request) *Response {
	switch req.Type {
	case RequestStatus:
		return d.handleStatus()
	case RequestStop:
		d.Stop()
		return &Response{Success: true, Message: "Daemon stopping"}
	case RequestStats:
		st := d.vol.Stats()
		return &Response{Success: true, Stats: &st}
	case RequestRestore:
		return d.handleRestore(req)
	default:
		return &Response{Success: false, Error: "unknown request type"}
	}
}

func (d *Daemon) handleStatus() *Response {
	return &Response{
		Success: true,
		PID:     os.Getpid(),
		Server: &ServerStatus{
			Protocol:   NetFSType(),
			ListenAddr: d.settings.ListenAddr,
			ShareName:  d.settings.ShareName,
			Session:    d.session,
			StartedAt:  d.startedAt.Unix(),
			Handles:    d.fs.OpenHandles(),
		},
	}
}

func (d *Daemon) handleRestore(req *Request) *Response {
	if req.Path == "" {
		return &Response{Success: false, Error: "path is required"}
	}
	n, err := d.fs.RestoreBackup(req.Path)
	if err != nil {
		return &Response{Success: false, Error: fmt.Sprintf("%s: %v", req.Path, err)}
	}
	return &Response{
		Success: true,
		Bytes:   n,
		Message: fmt.Sprintf("Restored %s from %s", req.Path, wbkvfs.BackupPath(req.Path)),
	}
}

func (d *Daemon) writePidFile() error {
	return os.WriteFile(PidPath(), []byte(strconv.Itoa(os.Getpid())), 0600)
}

func (d *Daemon) removePidFile() {
	os.Remove(PidPath())
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// waitForAddr waits until addr accepts TCP connections or the server
// goroutine reports an error.
func waitForAddr(addr string, timeout time.Duration, errCh <-chan error) error {
	var serveErr error
	ok := util.WaitWithDeadline(time.Now().Add(timeout), 25*time.Millisecond, func() bool {
		select {
		case serveErr = <-errCh:
			return true
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
	if serveErr != nil {
		return serveErr
	}
	if !ok {
		return fmt.Errorf("timeout waiting for %s", addr)
	}
	return nil
}

// truncateLogFile keeps the newer half of the log once it grows past maxSize.
func truncateLogFile(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}
	start := len(data) / 2
	// Don't cut a line in the middle
	for i := start; i < len(data); i++ {
		if data[i] == '\n' {
			start = i + 1
			break
		}
	}
	kept := data[start:]
	header := fmt.Appendf(nil, "--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(kept))
	return os.WriteFile(logPath, append(header, kept...), 0600)
}
