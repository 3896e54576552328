package drive

import (
	"sync"

	"github.com/lentin/neo-common/kinematics"
)

// CommandBuffer is a single-slot mailbox for the latest velocity
// command. Delivery contexts (the viam API, the bridge read loop)
// overwrite it; the step context copies it out once per tick. Stale
// commands are silently discarded; there is no queue and no
// back-pressure. The lock is held only for the copy, never across I/O.
type CommandBuffer struct {
	mu  sync.Mutex
	cmd kinematics.Velocity
}

// Store replaces the buffered command.
func (b *CommandBuffer) Store(cmd kinematics.Velocity) {
	b.mu.Lock()
	b.cmd = cmd
	b.mu.Unlock()
}

// Latest copies out the most recently stored command. A command
// arriving while a step is mid-flight is picked up on the next step.
func (b *CommandBuffer) Latest() kinematics.Velocity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmd
}
