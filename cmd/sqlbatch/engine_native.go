//go:build darwin || linux

package main

import (
	"github.com/tomyedwab/sqlbatch/engine"
	"github.com/tomyedwab/sqlbatch/engine/native"
)

func nativeOpener(lib string) (engine.Opener, error) {
	if err := native.Load(lib); err != nil {
		return nil, err
	}
	return native.Opener, nil
}
