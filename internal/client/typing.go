package client

import (
	"sort"
	"sync"
	"time"
)

// Typing interval defaults.
const (
	DefaultTypingDebounce = 250 * time.Millisecond
	DefaultTypingIdle     = 2500 * time.Millisecond
	DefaultTypingExpiry   = 2 * time.Second
)

// Notifier converts raw keystroke activity into debounced typing:start /
// typing:stop notifications so the relay is not flooded. A start is emitted
// only after the debounce interval elapses with no explicit stop; a stop is
// emitted when the idle interval passes without further keystrokes, or
// synchronously on Stop.
type Notifier struct {
	mu     sync.Mutex
	notify func(isTyping bool)

	debounce time.Duration
	idle     time.Duration

	debounceTimer *time.Timer
	idleTimer     *time.Timer
	typing        bool
	closed        bool
}

func NewNotifier(notify func(isTyping bool), debounce, idle time.Duration) *Notifier {
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &Notifier{notify: notify, debounce: debounce, idle: idle}
}

// Keystroke records local input activity.
func (n *Notifier) Keystroke() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	if !n.typing && n.debounceTimer == nil {
		var timer *time.Timer
		timer = time.AfterFunc(n.debounce, func() { n.debounceFired(timer) })
		n.debounceTimer = timer
	}

	if n.idleTimer != nil {
		n.idleTimer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(n.idle, func() { n.idleFired(timer) })
	n.idleTimer = timer
}

// debounceFired fires after sustained activity. A stale fire from a timer
// that Stop or Close already cancelled is ignored.
func (n *Notifier) debounceFired(timer *time.Timer) {
	n.mu.Lock()
	if n.closed || n.debounceTimer != timer {
		n.mu.Unlock()
		return
	}
	n.debounceTimer = nil
	if n.typing {
		n.mu.Unlock()
		return
	}
	n.typing = true
	n.mu.Unlock()
	n.notify(true)
}

// idleFired fires when the idle interval passes without keystrokes. A stale
// fire from a timer Keystroke already re-armed is ignored.
func (n *Notifier) idleFired(timer *time.Timer) {
	n.mu.Lock()
	if n.closed || n.idleTimer != timer {
		n.mu.Unlock()
		return
	}
	n.cancelTimersLocked()
	wasTyping := n.typing
	n.typing = false
	n.mu.Unlock()
	if wasTyping {
		n.notify(false)
	}
}

// Stop cancels both timers and, if a start was already sent, emits a
// synchronous stop. Called on explicit send or input clear.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.cancelTimersLocked()
	wasTyping := n.typing
	n.typing = false
	n.mu.Unlock()
	if wasTyping {
		n.notify(false)
	}
}

// Close tears the notifier down. No further notifications are emitted,
// including from timers already in flight.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.cancelTimersLocked()
}

func (n *Notifier) cancelTimersLocked() {
	if n.debounceTimer != nil {
		n.debounceTimer.Stop()
		n.debounceTimer = nil
	}
	if n.idleTimer != nil {
		n.idleTimer.Stop()
		n.idleTimer = nil
	}
}

// Tracker holds the set of remote users currently typing. Each start event
// arms (or re-arms) a per-user expiry timer so a lost stop event can only
// leave an indicator stuck for the expiry interval.
type Tracker struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	expiry   time.Duration
	onChange func(users []string)
	closed   bool
}

// NewTracker creates a tracker. onChange, if non-nil, receives the sorted
// set of typing users after every change.
func NewTracker(expiry time.Duration, onChange func(users []string)) *Tracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Tracker{
		timers:   make(map[string]*time.Timer),
		expiry:   expiry,
		onChange: onChange,
	}
}

// Update applies a remote typing event.
func (t *Tracker) Update(user string, isTyping bool) {
	if isTyping {
		t.start(user)
	} else {
		t.stop(user)
	}
}

func (t *Tracker) start(user string) {
	t.mu.Lock()
	if t.closed || user == "" {
		t.mu.Unlock()
		return
	}
	prev, known := t.timers[user]
	if known {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.expiry, func() { t.expire(user, timer) })
	t.timers[user] = timer
	if known {
		t.mu.Unlock()
		return
	}
	t.notifyAndUnlock()
}

func (t *Tracker) stop(user string) {
	t.mu.Lock()
	timer, ok := t.timers[user]
	if !ok || t.closed {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.timers, user)
	t.notifyAndUnlock()
}

// expire fires when no refreshing start arrived in time. A stale fire from
// a replaced timer is ignored.
func (t *Tracker) expire(user string, timer *time.Timer) {
	t.mu.Lock()
	if t.closed || t.timers[user] != timer {
		t.mu.Unlock()
		return
	}
	delete(t.timers, user)
	t.notifyAndUnlock()
}

// notifyAndUnlock snapshots the set, releases the lock, then invokes onChange.
func (t *Tracker) notifyAndUnlock() {
	users := make([]string, 0, len(t.timers))
	for u := range t.timers {
		users = append(users, u)
	}
	sort.Strings(users)
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb(users)
	}
}

// Typing returns the sorted set of users currently typing.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]string, 0, len(t.timers))
	for u := range t.timers {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Close cancels every timer; callbacks already in flight become no-ops.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for u, timer := range t.timers {
		timer.Stop()
		delete(t.timers, u)
	}
}
