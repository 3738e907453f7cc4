//go:build !windows

package audit

func hideFileWindows(string) error { return nil }
