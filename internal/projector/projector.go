package projector

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/shufflesync/internal/feed"
)

// Signal is a one-shot notification produced while applying an event.
type Signal string

const (
	// SignalStarted fires once when the session moves into Active.
	SignalStarted Signal = "started"

	// SignalWinnerDeclared fires once when the session winner is set.
	SignalWinnerDeclared Signal = "winner_declared"

	// SignalDeleted fires when the session or list was deleted.
	SignalDeleted Signal = "deleted"

	// SignalStale fires when a sequence gap is detected. The view keeps
	// applying events but must be Reset from a snapshot before it is
	// trusted again.
	SignalStale Signal = "stale"

	// SignalNotesDirty fires when a note set changed and should be
	// re-fetched.
	SignalNotesDirty Signal = "notes_dirty"
)

// ErrWrongTopic is returned when an event addressed to another topic is
// applied to a view.
var ErrWrongTopic = errors.New("projector: event for another topic")

// View is a client-side projection of one topic.
type View interface {
	Topic() feed.Topic
	Apply(ev feed.Event) ([]Signal, error)
	Stale() bool
}

// tracker dedupes events by id and detects per-publisher sequence gaps.
// Callers hold the owning view's lock.
type tracker struct {
	seen    map[string]struct{}
	lastSeq map[string]int64
	stale   bool
}

func newTracker() tracker {
	return tracker{
		seen:    make(map[string]struct{}),
		lastSeq: make(map[string]int64),
	}
}

// observe records ev and reports whether it is new and whether it opened a
// gap. The first event from a publisher sets its baseline. A sequence that
// goes backwards under a new id means the publisher restarted the topic and
// also resets the baseline.
func (t *tracker) observe(ev feed.Event) (fresh, gap bool) {
	if _, dup := t.seen[ev.ID]; dup {
		return false, false
	}
	t.seen[ev.ID] = struct{}{}

	last, known := t.lastSeq[ev.Publisher]
	t.lastSeq[ev.Publisher] = ev.Seq
	if known && ev.Seq > last+1 {
		gap = !t.stale
		t.stale = true
	}
	return true, gap
}

// reset clears the stale flag. Seen ids are kept so an event redelivered
// after the snapshot is still ignored, and sequence baselines are kept so a
// gap straddling the reset is still detected.
func (t *tracker) reset() {
	t.stale = false
}

// Follow applies events from sub to v until ctx ends or the topic closes.
// When v reports a gap, resync is called so the caller can fetch a snapshot
// and Reset the view. onSignal, if non-nil, receives every signal produced.
//
// Follow returns nil when the topic was closed and ctx.Err() on
// cancellation.
func Follow(ctx context.Context, sub *feed.Subscription, v View, resync func(context.Context) error, onSignal func(Signal)) error {
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, feed.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		signals, err := v.Apply(ev)
		if err != nil {
			return fmt.Errorf("apply %s: %w", ev.Name, err)
		}
		for _, s := range signals {
			if onSignal != nil {
				onSignal(s)
			}
			if s == SignalStale && resync != nil {
				if err := resync(ctx); err != nil {
					return fmt.Errorf("resync %s: %w", v.Topic(), err)
				}
			}
		}
	}
}
