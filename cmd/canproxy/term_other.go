//go:build !linux

package main

import "errors"

func makeRaw(fd int) (func() error, error) {
	return nil, errors.New("raw terminal mode is only supported on linux")
}
