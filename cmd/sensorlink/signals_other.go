//go:build !unix

package main

import "os"

func resumeSignals() []os.Signal { return nil }
