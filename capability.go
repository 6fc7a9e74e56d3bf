// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// EventStrategy selects the kernel object backing an Event.
type EventStrategy uint8

const (
	// EventStrategyEventfd backs each Event with one eventfd(2) counter.
	EventStrategyEventfd EventStrategy = iota
	// EventStrategyPipe backs each Event with a non-blocking pipe pair.
	// Used on kernels without eventfd.
	EventStrategyPipe
)

func (s EventStrategy) String() string {
	if s == EventStrategyPipe {
		return "pipe"
	}
	return "eventfd"
}

// Capabilities describes what the running kernel offers.
type Capabilities struct {
	Event EventStrategy
}

var capabilities = sync.OnceValue(probeCapabilities)

// DetectCapabilities probes the kernel once per process and returns the
// chosen strategies. Later calls return the cached result.
func DetectCapabilities() Capabilities { return capabilities() }

func probeCapabilities() Capabilities {
	c := Capabilities{Event: EventStrategyEventfd}
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		c.Event = EventStrategyPipe
		return c
	}
	_ = unix.Close(fd)
	return c
}
