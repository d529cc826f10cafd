//go:build !darwin && !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/tomyedwab/sqlbatch/engine"
)

func nativeOpener(string) (engine.Opener, error) {
	return nil, fmt.Errorf("native engine is not available on %s", runtime.GOOS)
}
