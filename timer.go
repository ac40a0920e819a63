package mqttclient

import "time"

// deadline is a one-shot timer whose callback runs on an Executor. It must
// only be armed and stopped from that executor; a callback that fires after
// stop or a later arm is discarded.
type deadline struct {
	timer *time.Timer
	gen   uint64
}

// arm schedules fn after d, replacing any pending callback.
func (t *deadline) arm(q Executor, d time.Duration, fn func()) {
	t.stop()

	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		q.Execute(func() {
			if t.gen != gen {
				return
			}
			t.timer = nil
			fn()
		})
	})
}

// stop cancels the pending callback, if any.
func (t *deadline) stop() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// active reports whether a callback is pending.
func (t *deadline) active() bool {
	return t.timer != nil
}
