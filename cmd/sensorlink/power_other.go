//go:build !linux

package main

func newPowerSource(string) powerSource { return nil }
