package link

// maintenanceTimers supervise an operational link
// (USB 3.2 Spec Section 7.5.6.1): a keepalive is scheduled when no link
// command has been sent for a while, and recovery is required when none
// has been received.
type maintenanceTimers struct {
	keepalive uint64
	timeout   uint64

	sinceSent     uint64
	sinceReceived uint64
}

func newMaintenanceTimers(cfg Config) maintenanceTimers {
	return maintenanceTimers{
		keepalive: cfg.Ticks(cfg.KeepaliveInterval),
		timeout:   cfg.Ticks(cfg.LinkCommandTimeout),
	}
}

// tick advances the timers. sendKeepalive pulses once per idle interval;
// recovery pulses once per timeout.
func (t *maintenanceTimers) tick(active, commandSent, commandReceived bool) (sendKeepalive, recovery bool) {
	if !active {
		t.sinceSent = 0
		t.sinceReceived = 0
		return false, false
	}
	if commandSent {
		t.sinceSent = 0
	} else {
		t.sinceSent++
		if t.sinceSent == t.keepalive {
			sendKeepalive = true
		}
	}
	if commandReceived {
		t.sinceReceived = 0
	} else {
		t.sinceReceived++
		if t.sinceReceived >= t.timeout {
			t.sinceReceived = 0
			recovery = true
		}
	}
	return sendKeepalive, recovery
}
