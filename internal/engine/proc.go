package engine

import (
	"io"
	"os/exec"
)

// proc abstracts the spawned engine process so connection logic can be
// exercised against in-memory pipes in tests.
type proc interface {
	stdin() io.Writer
	stdout() io.Reader
	stderr() io.Reader
	// wait blocks until the process exits and returns its exit code.
	wait() int
	// terminate kills the process without waiting for a graceful exit.
	terminate()
	pid() int
}

type execProc struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.ReadCloser
	err io.ReadCloser
}

// startProc spawns the engine binary with its three standard streams piped.
func startProc(path string, args []string) (proc, error) {
	cmd := exec.Command(path, args...)
	setSysProcAttr(cmd)

	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	errOut, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProc{cmd: cmd, in: in, out: out, err: errOut}, nil
}

func (p *execProc) stdin() io.Writer  { return p.in }
func (p *execProc) stdout() io.Reader { return p.out }
func (p *execProc) stderr() io.Reader { return p.err }
func (p *execProc) pid() int          { return p.cmd.Process.Pid }

func (p *execProc) wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return exit.ExitCode()
	}
	return -1
}

func (p *execProc) terminate() {
	p.in.Close()
	killProcess(p.cmd)
}
