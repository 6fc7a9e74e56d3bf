// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenFlag selects how OpenHandle opens a path. Values combine like open(2)
// flags: exactly one of ORDONLY, OWRONLY, ORDWR plus any modifiers.
type OpenFlag uint32

const (
	ORDONLY OpenFlag = 0
	OWRONLY OpenFlag = 1 << (iota - 1)
	ORDWR
	OCREATE
	OEXCL
	OTRUNC
	OAPPEND
	OCLOEXEC
	ODIRECTORY
)

// native translates f to open(2) flags. Handles are inheritable across
// exec unless OCLOEXEC is set.
func (f OpenFlag) native() int {
	var n int
	switch {
	case f&ORDWR != 0:
		n = unix.O_RDWR
	case f&OWRONLY != 0:
		n = unix.O_WRONLY
	default:
		n = unix.O_RDONLY
	}
	if f&OCREATE != 0 {
		n |= unix.O_CREAT
		if f&OEXCL != 0 {
			n |= unix.O_EXCL
		}
	}
	if f&OTRUNC != 0 {
		n |= unix.O_TRUNC
	}
	if f&OAPPEND != 0 {
		n |= unix.O_APPEND
	}
	if f&OCLOEXEC != 0 {
		n |= unix.O_CLOEXEC
	}
	if f&ODIRECTORY != 0 {
		n |= unix.O_DIRECTORY
	}
	return n
}

// OpenHandle opens path and returns the raw descriptor. perm applies when
// the file is created.
func OpenHandle(path string, flag OpenFlag, perm os.FileMode) (uintptr, error) {
	for {
		fd, err := unix.Open(path, flag.native(), uint32(perm.Perm()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ^uintptr(0), &os.PathError{Op: "open", Path: path, Err: Translate(err)}
		}
		return uintptr(fd), nil
	}
}

// OpenFile opens path as a stream.
func OpenFile(path string, flag OpenFlag, perm os.FileMode, opts ...Option) (*Stream, error) {
	fd, err := OpenHandle(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return NewStream(fd, opts...)
}
