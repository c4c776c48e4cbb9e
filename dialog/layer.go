package dialog

import (
	"sync"

	"github.com/sipuacore/imsstack/sip"
)

// Key identifies a dialog by Call-ID plus the local and remote tags, per
// RFC 3261 §12.2.2. It is the same triple regardless of which side is UAC
// or UAS: "local" always means this process's tag.
type Key struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Layer is the dialog directory: a map from Key to Dialog, with explicit
// removal only (no GC/expiry). It covers every dialog-forming method, not
// just INVITE.
type Layer struct {
	mu      sync.RWMutex
	dialogs map[Key]*Dialog
}

// NewLayer returns an empty dialog directory.
func NewLayer() *Layer {
	return &Layer{dialogs: make(map[Key]*Dialog)}
}

// Add registers d under its current Key and links it back to this Layer so
// Dialog.Remove can unlink itself later. When a dialog's RemoteTag is first
// learned its Key changes and the dialog re-keys itself in this Layer, so
// Add is called once per dialog.
func (l *Layer) Add(d *Dialog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d.layer = l
	l.dialogs[d.Key()] = d
}

func (l *Layer) remove(d *Dialog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.dialogs, d.Key())
}

// rekey moves a dialog from its old Key to its current one. Needed because
// a dialog is normally added to the Layer before its RemoteTag is learned
// (RemoteTag is empty until the peer's first tagged response or request),
// which changes its Key.
func (l *Layer) rekey(oldKey Key, d *Dialog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.dialogs, oldKey)
	d.layer = l
	l.dialogs[d.Key()] = d
}

func (l *Layer) find(key Key) (*Dialog, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.dialogs[key]
	return d, ok
}

// FindRequest matches an inbound in-dialog request per RFC 3261 §12.2.2:
// the request's Call-ID, the tag in its To header (our local tag) and the
// tag in its From header (the peer's tag) must all match.
func (l *Layer) FindRequest(req *sip.Request) (*Dialog, bool) {
	callID := req.CallID()
	from := req.From()
	to := req.To()
	if callID == nil || from == nil || to == nil {
		return nil, false
	}
	toTag, _ := to.Params.Get("tag")
	fromTag, _ := from.Params.Get("tag")
	return l.find(Key{CallID: string(*callID), LocalTag: toTag, RemoteTag: fromTag})
}

// FindResponse matches an inbound response to the dialog that sent the
// request it answers: the response's Call-ID, the tag in its From header
// (our local tag, since we sent the request) and the tag in its To header
// (the peer's tag) must all match.
func (l *Layer) FindResponse(res *sip.Response) (*Dialog, bool) {
	callID := res.CallID()
	from := res.From()
	to := res.To()
	if callID == nil || from == nil || to == nil {
		return nil, false
	}
	fromTag, _ := from.Params.Get("tag")
	toTag, _ := to.Params.Get("tag")
	return l.find(Key{CallID: string(*callID), LocalTag: fromTag, RemoteTag: toTag})
}

// Len reports how many dialogs are currently tracked.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.dialogs)
}
