package ops

import (
	"bufio"
	"os/exec"
	"sync"
	"syscall"

	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
)

// AttachProcess spawns a process, wires its output streams to the operation
// room in emission order, and waits for it to exit. The process runs in its
// own process group so cancellation can signal the whole tree.
//
// For unmanaged operations the exit of this single process decides the
// terminal state. For managed operations it does not: the driver decides
// whether to attach further processes and reports the terminal state itself.
func (e *Executor) AttachProcess(op *Operation, name string, args ...string) (int, error) {
	if op.State().IsTerminal() {
		return -1, fault.New(fault.KindProcess, "operation %s is no longer running", op.ID)
	}

	// First attach moves started → running; later attaches in a managed
	// sequence are already running and need no announcement.
	if op.State() == StateStarted && op.transition(StateRunning) {
		e.broadcastState(op, protocol.StatusRunning, "")
	}

	cmd := exec.CommandContext(op.ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Context cancellation stays cooperative: SIGTERM to the process group
	// instead of the default SIGKILL, with the hard kill deferred until the
	// grace period runs out.
	cmd.Cancel = func() error {
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			return syscall.Kill(-pgid, syscall.SIGTERM)
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fault.Wrap(fault.KindProcess, err, "failed to create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fault.Wrap(fault.KindProcess, err, "failed to create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		err = fault.Wrap(fault.KindProcess, err, "failed to start %s", name)
		if op.Type == TypeUnmanaged {
			e.finish(op, StateError, err.Error())
		}
		return -1, err
	}

	pid := cmd.Process.Pid
	pgid, pgidErr := syscall.Getpgid(pid)
	if pgidErr != nil {
		pgid = pid
	}
	op.addProcessGroup(pgid)
	defer op.removeProcessGroup(pgid)

	e.log.Debug().Str("operation_id", op.ID).Int("pid", pid).Str("command", name).Msg("process attached")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			e.emit(op, scanner.Text(), "stdout")
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			e.emit(op, scanner.Text(), "stderr")
		}
	}()
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if op.Type == TypeUnmanaged {
		if exitCode == 0 {
			e.finish(op, StateCompleted, "")
		} else {
			e.finish(op, StateError, fault.New(fault.KindProcess, "%s exited with code %d", name, exitCode).Error())
		}
	}

	return exitCode, nil
}
