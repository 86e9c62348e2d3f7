package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/maauso/autoslicer/internal/recording"
)

// ErrListenerNotComparable is returned by AddListener for listeners whose
// dynamic type cannot be compared with ==, such as slice or map types.
var ErrListenerNotComparable = errors.New("listener type is not comparable")

// Listener is notified after each successful ProcessRecording.
//
// Listeners are identified with ==, so the dynamic type must be comparable;
// pointers are the usual choice.
type Listener interface {
	SlicesReady(ctx context.Context, set *recording.SliceSet) error
}

// AddListener registers l. Registering the same listener twice is a no-op
// and a nil listener is ignored. A listener that could never be removed again
// is rejected with ErrListenerNotComparable.
func (c *Controller) AddListener(l Listener) error {
	if l == nil {
		return nil
	}
	if !reflect.TypeOf(l).Comparable() {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, l)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.ContainsFunc(c.listeners, func(x Listener) bool { return sameListener(x, l) }) {
		return nil
	}
	c.listeners = append(c.listeners, l)
	return nil
}

// RemoveListener unregisters l. Removing an unknown listener is a no-op.
func (c *Controller) RemoveListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = slices.DeleteFunc(c.listeners, func(x Listener) bool { return sameListener(x, l) })
}

// sameListener compares listeners without panicking on non-comparable
// dynamic types.
func sameListener(a, b Listener) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// notify calls every listener registered when notify starts. A listener that
// returns an error or panics is logged and counted; the others still run.
func (c *Controller) notify(ctx context.Context, set *recording.SliceSet) {
	c.mu.Lock()
	snapshot := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, l := range snapshot {
		if err := c.notifyOne(ctx, l, set); err != nil {
			c.metrics.ListenerFailed()
			c.logger.Warn("slice listener failed",
				slog.String("recording_id", set.RecordingID),
				slog.String("listener", fmt.Sprintf("%T", l)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Controller) notifyOne(ctx context.Context, l Listener, set *recording.SliceSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.SlicesReady(ctx, set)
}
