package instance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"lecrec/internal/logger"

	"github.com/mattn/go-isatty"
)

const (
	// DefaultPIDFile is the marker holding the pid of the running scheduler.
	DefaultPIDFile = ".process.pid"
	// DefaultTimeout bounds how long the takeover prompt waits for an answer.
	DefaultTimeout = 120 * time.Second

	takeoverPrompt = "A lecture recorder process is already active. Kill it and start this one? [Y/N]:"
)

// Outcome is the result of Acquire.
type Outcome int

const (
	// Proceed means no other recorder was running.
	Proceed Outcome = iota
	// Confirmed means the previous recorder was told to terminate.
	Confirmed
	// Declined means the operator refused the takeover.
	Declined
	// TimedOut means nobody answered the prompt in time.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Continue reports whether this process should go on running.
func (o Outcome) Continue() bool {
	return o == Proceed || o == Confirmed
}

// Process probes and signals other processes.
type Process interface {
	Alive(pid int) bool
	IsRecorder(pid int) bool
	Terminate(pid int) error
}

// Guard keeps a single scheduler running per working directory.
type Guard struct {
	PIDFile string
	// Force confirms a takeover without asking.
	Force   bool
	Timeout time.Duration

	In  io.Reader
	Out io.Writer
	// Interactive is false when In is not a terminal; the prompt then declines.
	Interactive bool

	Process Process
	Self    int
	logger  logger.Logger
}

// New creates a guard on the standard streams and the platform process probe.
func New(log logger.Logger, pidFile string, force bool) *Guard {
	if pidFile == "" {
		pidFile = DefaultPIDFile
	}
	return &Guard{
		PIDFile:     pidFile,
		Force:       force,
		Timeout:     DefaultTimeout,
		In:          os.Stdin,
		Out:         os.Stdout,
		Interactive: IsTerminal(os.Stdin),
		Process:     platformProcess(),
		Self:        os.Getpid(),
		logger:      log,
	}
}

// IsTerminal reports whether r is a terminal an operator can answer on.
func IsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Acquire checks for a live recorder named by the pid file and, unless the
// takeover is refused, records this process in it. A nil Process disables
// the check entirely.
func (g *Guard) Acquire(ctx context.Context) (Outcome, error) {
	if g.Process == nil {
		return Proceed, nil
	}

	outcome := Proceed
	if pid, ok := g.readPID(); ok && pid != g.Self && g.Process.Alive(pid) && g.Process.IsRecorder(pid) {
		if g.Force {
			outcome = Confirmed
		} else {
			outcome = g.ask(ctx)
		}

		switch outcome {
		case Confirmed:
			if err := g.Process.Terminate(pid); err != nil {
				return outcome, fmt.Errorf("failed to stop process %d: %w", pid, err)
			}
			g.logger.Infof("Killed the old lecture recorder process.")
		case TimedOut:
			g.logger.Warnf("Did not answer in time. Aborting this process.")
			return outcome, nil
		default:
			g.logger.Infof("Aborting this process.")
			return outcome, nil
		}
	}

	if err := os.WriteFile(g.PIDFile, []byte(strconv.Itoa(g.Self)), 0o644); err != nil {
		return outcome, fmt.Errorf("failed to write pid file %s: %w", g.PIDFile, err)
	}
	return outcome, nil
}

// Release removes the pid file if it still names this process.
func (g *Guard) Release() error {
	if g.Process == nil {
		return nil
	}
	pid, ok := g.readPID()
	if !ok || pid != g.Self {
		return nil
	}
	if err := os.Remove(g.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file %s: %w", g.PIDFile, err)
	}
	return nil
}

func (g *Guard) readPID() (int, bool) {
	data, err := os.ReadFile(g.PIDFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// ask prompts once and waits at most Timeout for a line. Only "y" confirms.
func (g *Guard) ask(ctx context.Context) Outcome {
	if !g.Interactive {
		return Declined
	}
	fmt.Fprint(g.Out, takeoverPrompt+" ")

	answers := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil && line == "" {
			close(answers)
			return
		}
		answers <- line
	}()

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-answers:
		if ok && strings.EqualFold(strings.TrimSpace(line), "y") {
			return Confirmed
		}
		return Declined
	case <-timer.C:
		return TimedOut
	case <-ctx.Done():
		return Declined
	}
}
