package workerpool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"
)

// worker wraps one reusable subprocess. A worker executes at most one task
// at a time; the pool serialises access.
type worker struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	logger *slog.Logger
	dead   atomic.Bool
	nextID atomic.Int64
}

func startWorker(id int, command []string, logger *slog.Logger) (*worker, error) {
	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("workerpool: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("workerpool: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("workerpool: start worker: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
	w := &worker{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: scanner,
		logger: logger.With("worker", id),
	}
	w.logger.Debug("worker started", "pid", cmd.Process.Pid)
	return w, nil
}

// call sends one task and blocks until its result, an abort, or worker
// death. On abort the worker is killed; the pool must replace it.
func (w *worker) call(task *Task, cancel <-chan struct{}, onProgress func(string)) (*Message, error) {
	taskID := fmt.Sprintf("t%d-%d", w.id, w.nextID.Add(1))
	req := Message{Kind: KindExecute, TaskID: taskID, Task: task}
	data, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("workerpool: encode task: %w", err)
	}
	if _, err := w.stdin.Write(append(data, '\n')); err != nil {
		w.dead.Store(true)
		return nil, fmt.Errorf("workerpool: write task: %w", err)
	}

	type readResult struct {
		msg *Message
		err error
	}
	msgs := make(chan readResult, 1)
	go func() {
		for w.stdout.Scan() {
			line := w.stdout.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg Message
			if err := json.Unmarshal(line, &msg); err != nil {
				w.logger.Warn("malformed worker message", "error", err)
				continue
			}
			if msg.TaskID != taskID {
				continue
			}
			if msg.Kind == KindProgress {
				if onProgress != nil {
					onProgress(msg.Update)
				}
				continue
			}
			msgs <- readResult{msg: &msg}
			return
		}
		err := w.stdout.Err()
		if err == nil {
			err = io.EOF
		}
		msgs <- readResult{err: err}
	}()

	select {
	case rr := <-msgs:
		if rr.err != nil {
			w.dead.Store(true)
			return nil, fmt.Errorf("workerpool: worker exited: %w", rr.err)
		}
		return rr.msg, nil
	case <-cancel:
		w.kill()
		return nil, ErrAborted
	}
}

func (w *worker) kill() {
	w.dead.Store(true)
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

func (w *worker) close() {
	w.stdin.Close()
	if w.cmd != nil {
		_ = w.cmd.Wait()
	}
}
