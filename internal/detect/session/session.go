package session

import (
	"crypto/rand"
	"encoding/json"
	"strconv"
	"time"
)

const (
	// SessionKey is the fixed storage key for session-id continuity.
	SessionKey = "agentdetect_session"
	// CometDetectedKey caches a positive agent-extension identification.
	CometDetectedKey = "agentdetect_comet_detected"
	// MaxAge is how long a session id is reused across page loads.
	MaxAge = 30 * time.Minute
)

// EventsKey builds the per-context event-snapshot storage key.
func EventsKey(contextID string) string {
	return "agentdetect_events_" + contextID
}

// Session identifies one continuous observation window for a tab. It may
// span multiple page loads, tracked by PageLoadCount.
type Session struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"-"`
	Timestamp     int64     `json:"timestamp"`
	PageLoadCount int       `json:"-"`
}

type sessionRecord struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// NewID generates a session id as `<time36>-<rand>`, matching the format
// the tab-scoped store persists under SessionKey.
func NewID(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	return ts + "-" + randSuffix()
}

func randSuffix() string {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	n := uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
	return strconv.FormatUint(n, 36)
}

// Restore loads or creates a Session, mirroring startMonitoring's restore
// semantics: reused within MaxAge, fresh otherwise. PageLoadCount is not
// incremented here; the Recorder does that when it restores its own
// snapshot in the same call.
func Restore(store Store, now time.Time) *Session {
	raw, ok := store.Read(SessionKey)
	if ok {
		var rec sessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			age := now.Sub(time.UnixMilli(rec.Timestamp))
			if age >= 0 && age < MaxAge {
				return &Session{ID: rec.ID, CreatedAt: time.UnixMilli(rec.Timestamp), Timestamp: rec.Timestamp}
			}
		}
	}
	s := &Session{ID: NewID(now), CreatedAt: now, Timestamp: now.UnixMilli()}
	_ = store.Write(SessionKey, s.marshal())
	return s
}

func (s *Session) marshal() string {
	rec := sessionRecord{ID: s.ID, Timestamp: s.Timestamp}
	b, _ := json.Marshal(rec)
	return string(b)
}

// Touch re-persists the session record, used after a restore so the
// timestamp anchor (age basis) does not drift on every page load.
func (s *Session) Touch(store Store) {
	_ = store.Write(SessionKey, s.marshal())
}

// CometDetected reports whether the agent extension has been positively
// identified previously in this tab.
func CometDetected(store Store) bool {
	v, ok := store.Read(CometDetectedKey)
	return ok && v == "true"
}

// MarkCometDetected caches a positive agent-extension identification.
func MarkCometDetected(store Store) {
	_ = store.Write(CometDetectedKey, "true")
}
