package replay

import "github.com/gyaneshwarpardhi/eventsynth/internal/codec"

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// visitorPrefix marks anonymous visitors the way the vendor agent does.
const visitorPrefix = "_PENDO_T_"

// Identity is the per-user session identity substituted into every event.
// It lives only for the duration of one replayed journey.
type Identity struct {
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
	TabID     string `json:"tab_id"`
	FrameID   string `json:"frame_id"`
	AccountID string `json:"account_id"`
}

func (e *Engine) newIdentity(accountID string) Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Identity{
		VisitorID: visitorPrefix + e.randomString(11),
		SessionID: e.randomString(16),
		TabID:     e.randomString(15),
		FrameID:   e.randomString(16),
		AccountID: accountID,
	}
}

// randomString must be called with e.mu held.
func (e *Engine) randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[e.rng.IntN(len(alphanumeric))]
	}
	return string(b)
}

func (id Identity) apply(ev codec.Record, browserTime int64) {
	ev["browser_time"] = browserTime
	ev["visitor_id"] = id.VisitorID
	ev["session_id"] = id.SessionID
	ev["tab_id"] = id.TabID
	ev["frame_id"] = id.FrameID
	ev["account_id"] = id.AccountID
}
