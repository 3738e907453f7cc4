//go:build !linux

package process

import "errors"

// NetlinkSource is a no-op stand-in on platforms without the Linux
// process connector. OpenNetlinkSource always fails, so Run relies on its
// polling loop alone (spec §4.5, SPEC_FULL.md §C.5).
type NetlinkSource struct{}

func OpenNetlinkSource() (*NetlinkSource, error) {
	return nil, errors.New("process connector event source not available on this platform")
}

func (s *NetlinkSource) Close() error { return nil }

func (s *NetlinkSource) Events() <-chan int {
	ch := make(chan int)
	close(ch)
	return ch
}
