//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package backend

import (
	"runtime"

	"github.com/ceyewan/filelock/xerrors"
)

func newKernel(Options) (Backend, error) {
	return nil, xerrors.Wrapf(ErrUnsupported, "GOOS=%s", runtime.GOOS)
}

func probeKernel(string) error {
	return xerrors.Wrapf(ErrUnsupported, "GOOS=%s", runtime.GOOS)
}
