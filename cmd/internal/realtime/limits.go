package realtime

import "time"

const (
	// Clients never send anything meaningful; frames are read only to be discarded.
	maxFrameBytes = 4 << 10 // 4 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Inbound frames allowed per connection per window before it is closed.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
