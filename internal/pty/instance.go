// Package pty manages pseudo-terminal backed shell processes, one per
// terminal session.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/recovery"
)

// Status is the lifecycle state of a PTY instance.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Config describes how to spawn the shell process for one session.
type Config struct {
	Shell       string
	Size        models.TerminalSize
	WorkDir     string
	Env         map[string]string
	StopTimeout time.Duration // graceful terminate wait before SIGKILL
	ReadBufSize int
}

// Validate checks the configuration bounds.
func (c *Config) Validate() error {
	if c.Shell == "" {
		return fmt.Errorf("%w: shell must not be empty", models.ErrInvalidConfig)
	}
	if err := c.Size.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) stopTimeout() time.Duration {
	if c.StopTimeout <= 0 {
		return 5 * time.Second
	}
	return c.StopTimeout
}

func (c *Config) readBufSize() int {
	if c.ReadBufSize <= 0 {
		return 4096
	}
	return c.ReadBufSize
}

// Stats holds per-instance performance counters.
type Stats struct {
	SessionID       string  `json:"sessionId"`
	Status          Status  `json:"status"`
	PID             int     `json:"pid"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
	BytesRead       int64   `json:"bytesRead"`
	BytesWritten    int64   `json:"bytesWritten"`
	ReadOperations  int64   `json:"readOperations"`
	WriteOperations int64   `json:"writeOperations"`
	Errors          int64   `json:"errors"`
	IsAlive         bool    `json:"isAlive"`
}

// OutputCallback receives each raw chunk read from the PTY. Chunks arrive in
// read order with no line buffering; partial lines and partial multi-byte
// sequences are the consumer's problem.
type OutputCallback func(data []byte)

// Instance owns one spawned shell process and mediates all I/O with it.
type Instance struct {
	SessionID string

	cfg  Config
	cmd  *exec.Cmd
	ptmx *os.File

	mu        sync.Mutex
	status    Status
	size      models.TerminalSize
	startTime time.Time

	bytesRead    int64
	bytesWritten int64
	readOps      int64
	writeOps     int64
	errCount     int64

	cbMu       sync.Mutex
	callbacks  map[int]OutputCallback
	nextCbID   int

	exited   chan struct{} // closed when the process has been reaped
	readDone chan struct{} // closed when the read loop has returned
	stopOnce sync.Once
}

// NewInstance builds an instance without starting it.
func NewInstance(sessionID string, cfg Config) *Instance {
	return &Instance{
		SessionID: sessionID,
		cfg:       cfg,
		status:    StatusStarting,
		size:      cfg.Size,
		callbacks: make(map[int]OutputCallback),
		exited:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

// Start spawns the shell and begins the continuous read loop. Spawn failures
// leave the instance in the error state and are not retried here.
func (i *Instance) Start() error {
	cmd := exec.Command(i.cfg.Shell)
	cmd.Dir = i.cfg.WorkDir
	cmd.Env = os.Environ()
	for k, v := range i.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: i.cfg.Size.Cols,
		Rows: i.cfg.Size.Rows,
	})
	if err != nil {
		i.mu.Lock()
		i.status = StatusError
		i.errCount++
		i.mu.Unlock()
		return fmt.Errorf("%w: failed to start %s: %v", models.ErrProcess, i.cfg.Shell, err)
	}

	i.mu.Lock()
	i.cmd = cmd
	i.ptmx = ptmx
	i.status = StatusRunning
	i.startTime = time.Now()
	i.mu.Unlock()

	// Reap the process as soon as it exits so IsAlive stays accurate even
	// when the shell dies on its own.
	recovery.SafeGo(fmt.Sprintf("pty-wait-%s", i.SessionID), func() {
		_ = cmd.Wait()
		close(i.exited)
	})

	recovery.SafeGoWithCleanup(fmt.Sprintf("pty-read-%s", i.SessionID), i.readLoop, func() {
		close(i.readDone)
	})

	logger.Infof("pty started for session %s, pid %d, shell %s", i.SessionID, cmd.Process.Pid, i.cfg.Shell)
	return nil
}

// readLoop continuously reads raw bytes from the PTY and fans each chunk out
// to the registered callbacks in registration order. It ends when the PTY is
// closed (by Stop) or the process exits.
func (i *Instance) readLoop() {
	buf := make([]byte, i.cfg.readBufSize())
	for {
		n, err := i.ptmx.Read(buf)
		if n > 0 {
			i.mu.Lock()
			i.bytesRead += int64(n)
			i.readOps++
			i.mu.Unlock()

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			i.dispatch(chunk)
		}
		if err != nil {
			// EOF or EIO on /dev/ptmx means the shell exited or the
			// descriptor was closed during Stop.
			i.mu.Lock()
			if i.status == StatusRunning {
				i.status = StatusStopped
			}
			i.mu.Unlock()
			logger.Debugf("pty read loop ended for session %s: %v", i.SessionID, err)
			return
		}
	}
}

// dispatch invokes all registered callbacks on a snapshot of the callback set,
// so registration changes during iteration are safe. A failing callback is
// logged and counted but never stops the loop.
func (i *Instance) dispatch(chunk []byte) {
	i.cbMu.Lock()
	ids := make([]int, 0, len(i.callbacks))
	for id := range i.callbacks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]OutputCallback, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, i.callbacks[id])
	}
	i.cbMu.Unlock()

	for _, cb := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					i.mu.Lock()
					i.errCount++
					i.mu.Unlock()
					logger.Errorf("output callback panic for session %s: %v", i.SessionID, r)
				}
			}()
			cb(chunk)
		}()
	}
}

// RegisterOutputCallback adds a callback and returns a handle for removal.
// Callbacks are invoked in registration order for every chunk read.
func (i *Instance) RegisterOutputCallback(cb OutputCallback) int {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	id := i.nextCbID
	i.nextCbID++
	i.callbacks[id] = cb
	return id
}

// RemoveOutputCallback removes a previously registered callback.
func (i *Instance) RemoveOutputCallback(id int) {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	delete(i.callbacks, id)
}

// Write encodes input and writes it to the shell's stdin.
func (i *Instance) Write(input string) error {
	i.mu.Lock()
	running := i.status == StatusRunning
	ptmx := i.ptmx
	i.mu.Unlock()

	if !running || ptmx == nil || !i.IsAlive() {
		return fmt.Errorf("%w: session %s", models.ErrTerminated, i.SessionID)
	}

	data := []byte(input)
	if _, err := ptmx.Write(data); err != nil {
		i.mu.Lock()
		i.errCount++
		i.mu.Unlock()
		return fmt.Errorf("%w: write to session %s: %v", models.ErrProcess, i.SessionID, err)
	}

	i.mu.Lock()
	i.bytesWritten += int64(len(data))
	i.writeOps++
	i.mu.Unlock()
	return nil
}

// Resize applies new window dimensions to the live process.
func (i *Instance) Resize(size models.TerminalSize) error {
	if err := size.Validate(); err != nil {
		return err
	}

	i.mu.Lock()
	running := i.status == StatusRunning
	ptmx := i.ptmx
	i.mu.Unlock()

	if !running || ptmx == nil || !i.IsAlive() {
		return fmt.Errorf("%w: session %s", models.ErrTerminated, i.SessionID)
	}

	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: size.Cols, Rows: size.Rows}); err != nil {
		i.mu.Lock()
		i.errCount++
		i.mu.Unlock()
		return fmt.Errorf("%w: resize session %s: %v", models.ErrProcess, i.SessionID, err)
	}

	i.mu.Lock()
	i.size = size
	i.mu.Unlock()
	logger.Debugf("resized pty %s to %dx%d", i.SessionID, size.Cols, size.Rows)
	return nil
}

// Stop terminates the shell process. The default path sends SIGTERM and waits
// up to the configured stop timeout before escalating to SIGKILL; force skips
// straight to SIGKILL. The read loop is unblocked by closing the PTY and Stop
// waits for it to return.
func (i *Instance) Stop(force bool) error {
	var stopErr error
	i.stopOnce.Do(func() {
		i.mu.Lock()
		cmd := i.cmd
		ptmx := i.ptmx
		i.status = StatusStopped
		i.mu.Unlock()

		if cmd == nil || cmd.Process == nil {
			return
		}

		logger.Infof("stopping pty for session %s (force=%t)", i.SessionID, force)

		if i.IsAlive() {
			if force {
				_ = cmd.Process.Kill()
			} else {
				_ = cmd.Process.Signal(syscall.SIGTERM)
				select {
				case <-i.exited:
				case <-time.After(i.cfg.stopTimeout()):
					logger.Warnf("pty %s did not terminate gracefully, force killing", i.SessionID)
					_ = cmd.Process.Kill()
				}
			}
		}

		// Closing the master side unblocks the read loop's pending Read.
		if ptmx != nil {
			_ = ptmx.Close()
		}

		select {
		case <-i.exited:
		case <-time.After(i.cfg.stopTimeout()):
			stopErr = fmt.Errorf("%w: session %s did not exit after kill", models.ErrProcess, i.SessionID)
		}

		// No read should outlive Stop returning.
		select {
		case <-i.readDone:
		case <-time.After(time.Second):
			logger.Warnf("pty read loop for session %s slow to exit", i.SessionID)
		}

		logger.Infof("pty stopped for session %s", i.SessionID)
	})
	return stopErr
}

// IsAlive reports whether the shell process is still running.
func (i *Instance) IsAlive() bool {
	i.mu.Lock()
	started := i.cmd != nil
	i.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-i.exited:
		return false
	default:
		return true
	}
}

// PID returns the shell process ID, or 0 before Start.
func (i *Instance) PID() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Size returns the current terminal dimensions.
func (i *Instance) Size() models.TerminalSize {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.size
}

// GetStatus returns the current lifecycle state.
func (i *Instance) GetStatus() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// GetStats returns a snapshot of the performance counters.
func (i *Instance) GetStats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()

	var uptime float64
	if !i.startTime.IsZero() {
		uptime = time.Since(i.startTime).Seconds()
	}
	pid := 0
	if i.cmd != nil && i.cmd.Process != nil {
		pid = i.cmd.Process.Pid
	}
	return Stats{
		SessionID:       i.SessionID,
		Status:          i.status,
		PID:             pid,
		UptimeSeconds:   uptime,
		BytesRead:       i.bytesRead,
		BytesWritten:    i.bytesWritten,
		ReadOperations:  i.readOps,
		WriteOperations: i.writeOps,
		Errors:          i.errCount,
		IsAlive:         i.isAliveLocked(),
	}
}

// isAliveLocked is IsAlive for callers already holding the stats mutex.
func (i *Instance) isAliveLocked() bool {
	if i.cmd == nil {
		return false
	}
	select {
	case <-i.exited:
		return false
	default:
		return true
	}
}
