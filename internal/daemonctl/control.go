// Package daemonctl orchestrates the llmbridged process from the CLI:
// launching it detached, discovering it through the port file, and
// stopping it gracefully with a force-kill fallback.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"llmbridge/internal/config"
	"llmbridge/internal/ipc"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const dialTimeout = 2 * time.Second

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Port     int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	QuitSent   bool
	ForcedKill bool
	PID        int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Connect dials the daemon through the discovery file and verifies it with
// a ping.
func Connect(cfg *config.Config) (*ipc.Client, error) {
	client, err := ipc.DialPortFile(cfg.PortFilePath(), cfg.IPC.Host, dialTimeout)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", ErrDaemonNotRunning, err)
	}
	return client, nil
}

// Launch starts a detached llmbridged process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls the discovery file until the daemon answers a ping.
func WaitForClient(cfg *config.Config, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := Connect(cfg)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one is already answering.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := Connect(cfg); err == nil {
		client.Close()
		port, _ := readPortFile(cfg.PortFilePath())
		return StartResult{State: StartStateAlreadyRunning, Port: port}, nil
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(cfg, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	client.Close()
	port, _ := readPortFile(cfg.PortFilePath())
	return StartResult{State: StartStateStarted, Launched: true, Port: port}, nil
}

// WaitForShutdown waits until the daemon stops answering.
func WaitForShutdown(cfg *config.Config, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := Connect(cfg)
		if err != nil {
			return nil
		}
		client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo reports whether the daemon answers and its PID when known.
func ProcessInfo(cfg *config.Config) (bool, int) {
	pid, _ := readPIDFile(cfg.PIDFilePath())
	client, err := Connect(cfg)
	if err != nil {
		return false, pid
	}
	client.Close()
	return true, pid
}

// StopAndTerminate asks the daemon to quit and force-kills the process if
// it is still alive after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pid, _ := readPIDFile(cfg.PIDFilePath())

	client, err := Connect(cfg)
	if err != nil {
		return StopResult{PID: pid}, ErrDaemonNotRunning
	}
	quitErr := client.Quit()
	client.Close()

	result := StopResult{QuitSent: quitErr == nil, PID: pid}
	if WaitForShutdown(cfg, gracePeriod) == nil {
		return result, nil
	}

	killedPID, killErr := ForceKillProcess(cfg.PIDFilePath(), cfg.LockFilePath(), pid)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(cfg.PortFilePath())
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(cfg, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans the
// pid and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if filePID, err := readPIDFile(pidPath); err == nil && filePID > 0 {
		pid = filePID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}

func readPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed port file %s", path)
	}
	return port, nil
}
