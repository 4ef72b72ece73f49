package plic

import (
	"io"

	"github.com/tinyrange/plic/internal/mmio"
)

// Attach maps the profile's register window from /dev/mem and returns
// a Controller driving the real hardware. The closer unmaps the
// window; the Controller must not be used after it.
//
// This is a bring-up and inspection path. It needs root, a kernel that
// allows /dev/mem access to the window, and a hartID function that is
// accurate for the calling context.
func Attach(prof *Profile, hartID func() uint64) (*Controller, io.Closer, error) {
	w, err := mmio.OpenWindow(prof.Base, prof.Size)
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := New(prof.DriverParams(w, hartID))
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return ctrl, w, nil
}
