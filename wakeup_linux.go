//go:build linux

package uvloop

import "golang.org/x/sys/unix"

// wakePrimitive is the cross-thread signal that causes the reactor to
// return into the wake handler on its next dispatch. Implemented as a
// Linux eventfd, registered with the reactor for EventRead.
type wakePrimitive struct {
	fd      int
	handle  *Handle
	onClose func(fn func() error, handle *Handle)
}

// newWakePrimitive creates the eventfd, registers it with r for
// EventRead, and arranges for onPost to run (on the loop thread, via the
// reactor's normal dispatch) whenever the eventfd is written to.
func newWakePrimitive(r *reactor, onPost func(), onClose func(fn func() error, handle *Handle)) (*wakePrimitive, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	w := &wakePrimitive{fd: fd, onClose: onClose}
	h, err := r.register(fd, EventRead, true, func(IOEvents) {
		drainEventfd(fd)
		onPost()
	})
	if err != nil {
		_ = closeFD(fd)
		return nil, err
	}
	w.handle = h
	return w, nil
}

// send signals the wake primitive; safe from any goroutine.
func (w *wakePrimitive) send() error {
	buf := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, err := writeFD(w.fd, buf[:])
	return err
}

func (w *wakePrimitive) reference()   { w.handle.Reference() }
func (w *wakePrimitive) unreference() { w.handle.Unreference() }

// dispose routes the wake primitive's own teardown through the same
// close-handle queue it drains for everyone else (spec §9's
// handle-close-routing design note), rather than closing its fd
// directly — so its eventual close is observed the same way as any
// other handle's close, from the loop thread, inside drainClose.
func (w *wakePrimitive) dispose() {
	w.onClose(func() error {
		w.handle.Unreference()
		return closeFD(w.fd)
	}, w.handle)
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		if _, err := readFD(fd, buf[:]); err != nil {
			break
		}
	}
}
