// Package launcher spawns engine servers as child processes and waits for
// them to report healthy.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/logging"
)

// Spec describes one engine server process.
type Spec struct {
	// Model labels logs and events.
	Model string
	// Bin is the executable; resolved through PATH when not absolute.
	Bin string
	// Args renders the argv for the chosen port.
	Args func(port int) []string
	Env  []string
	Host string
	// Port pins the listen port; zero picks one (from PortStart..PortEnd
	// when set).
	Port      int
	PortStart int
	PortEnd   int
	// HealthPath is polled until it answers 2xx, e.g. "/health".
	HealthPath     string
	StartupTimeout time.Duration
	// StopGrace is the wait between SIGTERM and kill, default 2s.
	StopGrace time.Duration
	Publisher events.Publisher
}

// Process is a running, healthy engine server.
type Process struct {
	BaseURL string
	PID     int

	spec   Spec
	cmd    *exec.Cmd
	done   chan struct{}
	exitMu sync.Mutex
	exit   error
	stderr *tailBuffer
	once   sync.Once
}

// Start spawns the process and blocks until the health path answers, the
// process exits, ctx is done, or the startup timeout elapses.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	log := logging.For("launcher")
	pub := events.OrNoop(spec.Publisher)
	bin, err := exec.LookPath(spec.Bin)
	if err != nil {
		return nil, errdefs.DependencyUnavailable(fmt.Sprintf("%s not found: set server_bin_path or install it (%v)", spec.Bin, err))
	}
	host := strings.TrimSpace(spec.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := spec.Port
	if port == 0 {
		if spec.PortStart > 0 && spec.PortEnd >= spec.PortStart {
			port, err = PickPortInRange(host, spec.PortStart, spec.PortEnd)
		} else {
			port, err = PickFreePort(host)
		}
		if err != nil {
			return nil, err
		}
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	cmd := exec.Command(bin, spec.Args(port)...)
	cmd.Env = append(os.Environ(), spec.Env...)
	stderr := &tailBuffer{max: 8192}
	cmd.Stderr = stderr
	cmd.Stdout = stderr
	if err := cmd.Start(); err != nil {
		return nil, errdefs.Load(spec.Model, fmt.Errorf("start %s: %w", spec.Bin, err))
	}
	p := &Process{BaseURL: baseURL, PID: cmd.Process.Pid, spec: spec, cmd: cmd, done: make(chan struct{}), stderr: stderr}
	go func() {
		werr := cmd.Wait()
		p.exitMu.Lock()
		p.exit = werr
		p.exitMu.Unlock()
		close(p.done)
	}()
	log.Info().Str("event", "spawn_start").Str("model", spec.Model).Int("pid", p.PID).Str("host", host).Int("port", port).Msg("engine process started")
	pub.Publish(events.Event{Name: "spawn_start", Model: spec.Model, Fields: map[string]any{"pid": p.PID, "host": host, "port": port}})

	timeout := spec.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	cli := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-p.done:
			werr := p.exitErr()
			tail := stderr.String()
			log.Warn().Str("event", "spawn_exit").Str("model", spec.Model).Int("pid", p.PID).AnErr("err", werr).Msg("engine exited before ready")
			pub.Publish(events.Event{Name: "spawn_exit", Model: spec.Model, Fields: map[string]any{"pid": p.PID, "before_ready": true}})
			if werr != nil {
				return nil, errdefs.Load(spec.Model, fmt.Errorf("%s exited early: %v; stderr tail: %s", spec.Bin, werr, tail))
			}
			return nil, errdefs.Load(spec.Model, fmt.Errorf("%s exited before ready: %s; stderr tail: %s", spec.Bin, baseURL, tail))
		case <-deadline.C:
			log.Warn().Str("event", "spawn_timeout").Str("model", spec.Model).Int("pid", p.PID).Msg("engine not ready in time")
			pub.Publish(events.Event{Name: "spawn_timeout", Model: spec.Model, Fields: map[string]any{"pid": p.PID}})
			_ = p.Stop()
			return nil, errdefs.Load(spec.Model, fmt.Errorf("%s not ready in %s: %s", spec.Bin, timeout, baseURL))
		case <-ctx.Done():
			_ = p.Stop()
			return nil, ctx.Err()
		case <-tick.C:
			if Healthy(ctx, cli, baseURL+spec.HealthPath) {
				log.Info().Str("event", "spawn_ready").Str("model", spec.Model).Int("pid", p.PID).Str("url", baseURL).Msg("engine ready")
				pub.Publish(events.Event{Name: "spawn_ready", Model: spec.Model, Fields: map[string]any{"pid": p.PID, "url": baseURL}})
				return p, nil
			}
		}
	}
}

// Healthy reports whether url answers 2xx.
func Healthy(ctx context.Context, cli *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := cli.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) exitErr() error {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exit
}

// Stderr returns the captured output tail.
func (p *Process) Stderr() string { return p.stderr.String() }

// Stop sends SIGTERM, then kills after the grace period. Safe to call
// more than once.
func (p *Process) Stop() error {
	p.once.Do(func() {
		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		grace := p.spec.StopGrace
		if grace <= 0 {
			grace = 2 * time.Second
		}
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(grace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
		events.OrNoop(p.spec.Publisher).Publish(events.Event{Name: "spawn_stop", Model: p.spec.Model, Fields: map[string]any{"pid": p.PID}})
		l := logging.For("launcher")
		l.Info().Str("event", "spawn_stop").Str("model", p.spec.Model).Int("pid", p.PID).Msg("engine stopped")
	})
	return nil
}

// PickPortInRange returns the first bindable port in [start,end].
func PickPortInRange(host string, start, end int) (int, error) {
	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// PickFreePort asks the kernel for an unused port.
func PickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
