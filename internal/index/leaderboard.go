package index

import (
	"context"
	"time"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// Window names the leaderboard bucketing period, per spec.md §4.8.
type Window string

const (
	WindowHourly  Window = "hourly"
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
	WindowCustom  Window = "custom"
)

// LeaderboardMaintainer implements the time-window leaderboard of
// spec.md §4.8: entries are written under
// I/<name>/window/<windowId>/<score>/<id>, with the current window id
// tracked at I/<name>/meta/current and retained windows bounded so old
// ones age out.
type LeaderboardMaintainer struct {
	root           tuple.Subspace
	desc           record.IndexDescriptor
	pk             record.PrimaryKeyFunc
	window         Window
	customSeconds  int64
	retainedWindows int
}

func NewLeaderboardMaintainer(root tuple.Subspace, desc record.IndexDescriptor, pk record.PrimaryKeyFunc, window Window, customSeconds int64, retainedWindows int) *LeaderboardMaintainer {
	if retainedWindows <= 0 {
		retainedWindows = 4
	}
	return &LeaderboardMaintainer{root: root, desc: desc, pk: pk, window: window, customSeconds: customSeconds, retainedWindows: retainedWindows}
}

func (m *LeaderboardMaintainer) Name() string          { return m.desc.Name }
func (m *LeaderboardMaintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *LeaderboardMaintainer) subspace() tuple.Subspace {
	return m.root.Sub("I", m.desc.Name)
}

// WindowID buckets t into the current window's integer id: the unix
// timestamp truncated to the window's period length.
func (m *LeaderboardMaintainer) WindowID(t time.Time) int64 {
	secs := t.Unix()
	period := m.periodSeconds()
	return secs / period
}

func (m *LeaderboardMaintainer) periodSeconds() int64 {
	switch m.window {
	case WindowHourly:
		return 3600
	case WindowDaily:
		return 86400
	case WindowWeekly:
		return 7 * 86400
	case WindowMonthly:
		return 30 * 86400
	case WindowCustom:
		if m.customSeconds > 0 {
			return m.customSeconds
		}
		return 60
	default:
		return 86400
	}
}

func (m *LeaderboardMaintainer) entryKey(windowID int64, score float64, id string) []byte {
	return m.subspace().Pack(tuple.Tuple{"window", windowID, score, id})
}

func (m *LeaderboardMaintainer) metaCurrentKey() []byte {
	return m.subspace().Pack(tuple.Tuple{"meta", "current"})
}

func (m *LeaderboardMaintainer) idOf(item record.Item) string {
	parts := m.pk(item)
	if len(parts) == 0 {
		return ""
	}
	if s, ok := parts[0].(string); ok {
		return s
	}
	return ""
}

func (m *LeaderboardMaintainer) IndexKeys(item record.Item) ([]KV, error) {
	return nil, nil
}

// Update writes nothing. Scores are recorded only through Submit, which
// takes an explicit now so this package has no hidden wall-clock
// dependency.
func (m *LeaderboardMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	return nil // score submission goes through Submit, which needs an explicit "now"
}

// Submit records a score observation for id in the window containing now.
func (m *LeaderboardMaintainer) Submit(ctx context.Context, tx kvengine.Transaction, now time.Time, score float64, id string) error {
	windowID := m.WindowID(now)
	tx.Set(m.entryKey(windowID, score, id), []byte{0x00})
	tx.Set(m.metaCurrentKey(), encodeI64(windowID))
	m.evictOldWindows(ctx, tx, windowID)
	return nil
}

// evictOldWindows clears entries for windows older than retainedWindows
// back from currentWindowID, bounding retention per spec.md §4.8.
func (m *LeaderboardMaintainer) evictOldWindows(ctx context.Context, tx kvengine.Transaction, currentWindowID int64) {
	oldest := currentWindowID - int64(m.retainedWindows)
	if oldest < 0 {
		return
	}
	sub := m.subspace().Sub("window")
	begin := sub.Bytes()
	end := sub.Pack(tuple.Tuple{oldest})
	tx.ClearRange(begin, end)
}

// Top returns the top-n (score, id) pairs in windowID, highest first.
func (m *LeaderboardMaintainer) Top(ctx context.Context, tx kvengine.Transaction, windowID int64, n int) ([]LeaderboardEntry, error) {
	sub := m.subspace().Sub("window", windowID)
	res, err := tx.GetRange(ctx, sub.Bytes(), sub.PrefixEnd(), kvengine.RangeOptions{Limit: n, Reverse: true})
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(res.KVs))
	for _, kv := range res.KVs {
		t, err := sub.Unpack(kv.Key)
		if err != nil || len(t) != 2 {
			continue
		}
		score, _ := t[0].(float64)
		id, _ := t[1].(string)
		out = append(out, LeaderboardEntry{Score: score, ID: id})
	}
	return out, nil
}

// LeaderboardEntry is a single ranked (score, id) row.
type LeaderboardEntry struct {
	Score float64
	ID    string
}

func (m *LeaderboardMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *LeaderboardMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}
