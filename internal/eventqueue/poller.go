package eventqueue

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/lavataste/sensord/internal/errs"
)

// Poller lets the client-side reader (§4.H) block on readiness across
// the control channel's file descriptor and an internal wake source
// at once, rather than spinning a goroutine per channel. It wraps
// unix.Poll with a self-pipe: writing a byte to the pipe is the
// standard way to interrupt a blocked poll(2) from another goroutine.
type Poller struct {
	fds       []unix.PollFd
	wakeRead  *os.File
	wakeWrite *os.File
}

// NewPoller builds a Poller watching watchFD for readability, plus an
// internal wake pipe registered as the last entry in Wait's results.
func NewPoller(watchFD int) (*Poller, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errs.Wrap(err, "eventqueue: create wake pipe")
	}
	return &Poller{
		fds: []unix.PollFd{
			{Fd: int32(watchFD), Events: unix.POLLIN},
			{Fd: int32(r.Fd()), Events: unix.POLLIN},
		},
		wakeRead:  r,
		wakeWrite: w,
	}, nil
}

// Wait blocks until watchFD is readable or Wake is called, and returns
// which one fired. timeoutMS follows poll(2)'s convention: -1 blocks
// indefinitely, 0 returns immediately.
func (p *Poller) Wait(timeoutMS int) (watchReady bool, woken bool, err error) {
	n, err := unix.Poll(p.fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return false, false, nil
		}
		return false, false, errs.Wrap(err, "eventqueue: poll")
	}
	if n == 0 {
		return false, false, nil
	}
	if p.fds[0].Revents&unix.POLLIN != 0 {
		watchReady = true
	}
	if p.fds[1].Revents&unix.POLLIN != 0 {
		woken = true
		p.drainWake()
	}
	return watchReady, woken, nil
}

// drainWake reads whatever is currently pending on the wake pipe. A
// single Read is enough: the pipe is a blocking fd, so looping until
// it returns 0 would block once it's empty instead of returning.
func (p *Poller) drainWake() {
	var buf [64]byte
	p.wakeRead.Read(buf[:])
}

// Wake interrupts a blocked Wait from another goroutine, e.g. to
// deliver a shutdown request to the reader loop.
func (p *Poller) Wake() error {
	_, err := p.wakeWrite.Write([]byte{1})
	return err
}

// Close releases the wake pipe's file descriptors.
func (p *Poller) Close() error {
	err1 := p.wakeRead.Close()
	err2 := p.wakeWrite.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
