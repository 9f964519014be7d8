package realtime

import (
	"github.com/autom8ter/machine/v4"
)

// Opt is an option for configuring a relay
type Opt func(r *Relay)

// WithLogger sets the relay's logger
func WithLogger(logger Logger) Opt {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBroadcasters mirrors every published topic to the given broadcasters in addition to the transport
func WithBroadcasters(broadcasters ...Broadcaster) Opt {
	return func(r *Relay) {
		r.broadcaster = append(r.broadcaster, broadcasters...)
	}
}

// WithTokenExtractor overrides how the connection gate extracts a credential token from a handshake
func WithTokenExtractor(extractor TokenExtractor) Opt {
	return func(r *Relay) {
		r.extractor = extractor
	}
}

// WithMachine sets the machine the relay runs its goroutines and in-process change streams on
func WithMachine(m machine.Machine) Opt {
	return func(r *Relay) {
		if m != nil {
			r.machine = m
		}
	}
}
