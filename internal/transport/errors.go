package transport

import "errors"

var (
	ErrPathMismatch = errors.New("upgrade request path does not match")
	ErrNotHijacker  = errors.New("response writer does not support hijacking")
	ErrNotAccepting = errors.New("acceptor is not accepting connections")
)
