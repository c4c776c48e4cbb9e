package dialog

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/sipuacore/imsstack/sip"
)

// State is a dialog's position in the RFC 3261 §12 lifecycle. Transitions
// are monotonic: Initial -> Early -> Established -> Terminated, with Early
// skippable. Enforced by the looplab/fsm machine below rather than by hand.
type State string

const (
	StateInitial     State = "initial"
	StateEarly       State = "early"
	StateEstablished State = "established"
	StateTerminated  State = "terminated"
)

// Role says which side of the dialog this process plays; it decides which
// header (From vs. To) carries the local tag and identity.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

// ErrInvalidState is returned when an operation doesn't make sense in the
// dialog's current state (e.g. building a new request on a terminated one).
var ErrInvalidState = errors.New("dialog: invalid state for this operation")

const defaultExpires = 3600 // seconds, RFC 3261 §20.19 default registration lifetime

// Operation seeds a Dialog's local/remote parties at construction.
type Operation struct {
	From    *sip.FromHeader
	To      *sip.ToHeader
	Expires uint32 // seconds; 0 selects defaultExpires
}

// Dialog is a single SIP/IMS dialog: its own identity, route set and digest
// challenge store, plus the request-construction and response-processing
// rules of RFC 3261 §12 and 3GPP TS 24.229. It covers both UAC and UAS
// roles and every dialog-forming method, not just INVITE.
type Dialog struct {
	stack *Stack
	layer *Layer
	role  Role

	machine *fsm.FSM

	CallID       string
	LocalTag     string
	RemoteTag    string
	LocalURI     sip.Uri
	RemoteURI    sip.Uri
	RemoteTarget sip.Uri
	RouteSet     []sip.Uri

	localCSeq        uint32
	firstRequestSent bool

	expires uint32

	challenges *challengeStore

	inviteRequest  *sip.Request
	inviteResponse *sip.Response
}

// NewDialog builds a Dialog bound to stack, seeding its local tag, Call-ID
// and initial CSeq. CallID may be empty, in which case a fresh one is
// generated.
func NewDialog(role Role, stack *Stack, callID string, op Operation) (*Dialog, error) {
	if stack == nil {
		return nil, fmt.Errorf("dialog: Stack is required")
	}

	d := &Dialog{
		stack:      stack,
		role:       role,
		challenges: newChallengeStore(),
		LocalTag:   sip.GenerateTagN(16),
		expires:    defaultExpires,
		machine:    newDialogFSM(),
	}

	if callID != "" {
		d.CallID = callID
	} else {
		d.CallID = uuid.NewString()
	}

	seq, err := randomCSeq()
	if err != nil {
		return nil, err
	}
	d.localCSeq = seq

	if op.Expires > 0 {
		d.expires = op.Expires
	}

	switch role {
	case RoleUAC:
		d.LocalURI = stack.PublicIdentity
		if op.From != nil {
			d.LocalURI = op.From.Address
		}
		if op.To != nil {
			d.RemoteURI = op.To.Address
			d.RemoteTarget = op.To.Address
		}
	case RoleUAS:
		d.LocalURI = stack.PublicIdentity
		if op.To != nil {
			d.LocalURI = op.To.Address
		}
		if op.From != nil {
			d.RemoteURI = op.From.Address
			d.RemoteTarget = op.From.Address
			if tag, ok := op.From.Params.Get("tag"); ok {
				d.RemoteTag = tag
			}
		}
	}

	return d, nil
}

func randomCSeq() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("dialog: seed CSeq: %w", err)
	}
	return (binary.BigEndian.Uint32(b[:]) & 0x7fffffff) + 1, nil
}

func newDialogFSM() *fsm.FSM {
	return fsm.NewFSM(
		string(StateInitial),
		fsm.Events{
			{Name: "early", Src: []string{string(StateInitial)}, Dst: string(StateEarly)},
			{Name: "establish", Src: []string{string(StateInitial), string(StateEarly)}, Dst: string(StateEstablished)},
			{Name: "terminate", Src: []string{string(StateInitial), string(StateEarly), string(StateEstablished)}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{},
	)
}

// State returns the dialog's current lifecycle state.
func (d *Dialog) State() State { return State(d.machine.Current()) }

// transition fires a lifecycle event. A rejected transition (e.g. a 1xx
// arriving after the matching 2xx already established the dialog) is the
// monotonicity invariant doing its job, not an error worth surfacing.
func (d *Dialog) transition(ctx context.Context, event string) {
	_ = d.machine.Event(ctx, event)
}

// RequestOptions carries the per-request extras RequestNew can't derive
// from dialog state alone.
type RequestOptions struct {
	// InReplyTo is the request ACK or CANCEL apply to; required for those
	// two methods (RFC 3261 §§13.2.2.4, 9.1 reuse its CSeq), ignored
	// otherwise.
	InReplyTo *sip.Request

	ExtraHeaders []sip.Header
	Body         []byte

	// Username/Password drive digest credential construction; Username
	// defaults to the stack's PrivateIdentity (IMPI) when empty.
	Username string
	Password string
}

// RequestNew builds a new in-dialog (or dialog-creating) request following
// the Request-URI/Route/CSeq construction rules of RFC 3261 §12.2.1.1.
func (d *Dialog) RequestNew(method sip.RequestMethod, opts RequestOptions) (*sip.Request, error) {
	if d.State() == StateTerminated {
		return nil, fmt.Errorf("dialog: %w: %s on a terminated dialog", ErrInvalidState, method)
	}

	d.preloadRoutes(method)
	recipient, routeHeader := d.requestURIAndRoute()

	req := sip.NewRequest(method, recipient)

	callID := sip.CallID(d.CallID)
	req.AppendHeader(&callID)

	from := &sip.FromHeader{Address: d.LocalURI, Params: sip.NewParams()}
	from.Params.Add("tag", d.LocalTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	if d.RemoteTag != "" {
		to.Params.Add("tag", d.RemoteTag)
	}
	req.AppendHeader(to)

	seq, err := d.nextCSeq(method, opts.InReplyTo)
	if err != nil {
		return nil, err
	}
	req.AppendHeader(&sip.CSeq{SeqNo: seq, MethodName: method})

	maxFwd := sip.MaxForwards(70)
	req.AppendHeader(&maxFwd)

	if routeHeader != nil {
		req.AppendHeader(routeHeader)
	}

	if method != sip.MESSAGE {
		contact := d.stack.Contact
		req.AppendHeader(&contact)
		if method == sip.PUBLISH {
			exp := sip.Expires(d.expires)
			req.AppendHeader(&exp)
		}
	}

	if err := d.attachAuthorization(req, method, opts); err != nil {
		return nil, err
	}

	if d.stack.PreferredIdentity != nil && !(d.stack.EnableEarlyIMS && method != sip.REGISTER) {
		req.AppendHeader(&sip.PPreferredIdentityHeader{Address: *d.stack.PreferredIdentity})
	}

	if networkInfoApplies(method) && d.stack.NetworkInfo != "" {
		info := sip.PAccessNetworkInfoHeader(d.stack.NetworkInfo)
		req.AppendHeader(&info)
	}

	for _, h := range opts.ExtraHeaders {
		req.AppendHeader(h)
	}

	if opts.Body != nil {
		req.SetBody(opts.Body)
	}

	if method == sip.INVITE {
		d.inviteRequest = req
	}

	return req, nil
}

// requestURIAndRoute selects the Request-URI and builds the Route header,
// per RFC 3261 §12.2.1.1: with no route set, the Request-URI is the remote
// target and there's no Route header. With a route set whose first entry is
// loose (carries "lr"), the Request-URI stays the remote target and every
// route is copied into Route headers. With a strict first route, it becomes
// the Request-URI (stripped of URI parameters) and the remaining routes
// plus the remote target become the Route headers.
func (d *Dialog) requestURIAndRoute() (sip.Uri, *sip.RouteHeader) {
	if len(d.RouteSet) == 0 {
		return d.RemoteTarget, nil
	}

	first := d.RouteSet[0]
	if isLooseRoute(first) {
		return d.RemoteTarget, buildRouteHeader(d.RouteSet)
	}

	recipient := first
	recipient.UriParams = nil
	rest := make([]sip.Uri, 0, len(d.RouteSet))
	rest = append(rest, d.RouteSet[1:]...)
	rest = append(rest, d.RemoteTarget)
	return recipient, buildRouteHeader(rest)
}

func isLooseRoute(u sip.Uri) bool {
	if u.UriParams == nil {
		return false
	}
	return u.UriParams.Has("lr")
}

func buildRouteHeader(uris []sip.Uri) *sip.RouteHeader {
	if len(uris) == 0 {
		return nil
	}
	head := &sip.RouteHeader{Address: uris[0]}
	cur := head
	for _, u := range uris[1:] {
		next := &sip.RouteHeader{Address: u}
		cur.Next = next
		cur = next
	}
	return head
}

// preloadRoutes preloads the route set for the first non-REGISTER
// dialog-creating request built while the dialog has no route set yet: the
// P-CSCF (if configured) followed by the saved Service-Route list, per
// RFC 3608 and 3GPP TS 24.229 initial-request routing.
func (d *Dialog) preloadRoutes(method sip.RequestMethod) {
	if method == sip.REGISTER || len(d.RouteSet) > 0 {
		return
	}
	if d.State() != StateInitial && d.State() != StateEarly {
		return
	}

	var preload []sip.Uri
	if d.stack.PCSCF != nil {
		if pcscf, err := d.stack.PCSCF(); err == nil {
			preload = append(preload, pcscf)
		}
	}
	preload = append(preload, d.stack.ServiceRoutes...)
	if len(preload) > 0 {
		d.RouteSet = preload
	}
}

// nextCSeq implements RFC 3261 §17.1.1.3/§9.1 CSeq rules: ACK and CANCEL
// reuse the SeqNo of the request they acknowledge or cancel (sip/request.go's
// newCancelRequest does the same); the dialog's seeded "random + 1" value
// is used as-is by the first other request, then incremented by one for
// each one after that.
func (d *Dialog) nextCSeq(method sip.RequestMethod, inReplyTo *sip.Request) (uint32, error) {
	if method == sip.ACK || method == sip.CANCEL {
		if inReplyTo == nil {
			return 0, fmt.Errorf("dialog: %s requires RequestOptions.InReplyTo", method)
		}
		cseq := inReplyTo.CSeq()
		if cseq == nil {
			return 0, fmt.Errorf("dialog: InReplyTo request carries no CSeq")
		}
		return cseq.SeqNo, nil
	}

	if !d.firstRequestSent {
		d.firstRequestSent = true
		return d.localCSeq, nil
	}
	d.localCSeq++
	return d.localCSeq, nil
}

// attachAuthorization adds one Authorization/Proxy-Authorization header per
// challenge on file. With no challenge on file and early-IMS security
// disabled, an initial REGISTER still carries an empty-credentials Authorization per
// 3GPP TS 24.229 §5.1.1.2.2, so the network has something to challenge.
func (d *Dialog) attachAuthorization(req *sip.Request, method sip.RequestMethod, opts RequestOptions) error {
	username := opts.Username
	if username == "" {
		username = d.stack.PrivateIdentity
	}

	challenges := d.challenges.all()
	if len(challenges) == 0 {
		if d.State() == StateInitial && method == sip.REGISTER && !d.stack.EnableEarlyIMS {
			cred := fmt.Sprintf(`Digest username="%s", realm="%s", nonce="", uri="%s", response=""`,
				username, d.stack.Realm, req.Recipient.String())
			h := sip.AuthorizationHeader(cred)
			req.AppendHeader(&h)
		}
		return nil
	}

	for _, c := range challenges {
		h, err := c.authorizationHeader(string(method), req.Recipient.String(), username, opts.Password)
		if err != nil {
			return err
		}
		req.AppendHeader(h)
	}
	return nil
}

func networkInfoApplies(method sip.RequestMethod) bool {
	switch method {
	case sip.INVITE, sip.BYE, sip.REGISTER, sip.SUBSCRIBE, sip.NOTIFY,
		sip.OPTIONS, sip.PRACK, sip.UPDATE, sip.REFER, sip.INFO, sip.MESSAGE, sip.PUBLISH:
		return true
	}
	return false
}

// Update processes an inbound response against the dialog: 401/407/421/494
// feed the challenge store; a provisional response carrying a To-tag moves
// the dialog to Early and records the peer's tag/target/route-set; a 2xx
// does the same and moves to Established; anything else leaves the dialog
// untouched.
func (d *Dialog) Update(ctx context.Context, res *sip.Response) error {
	switch res.StatusCode {
	case sip.StatusUnauthorized, sip.StatusProxyAuthenticationRequired,
		sip.StatusExtensionRequired, sip.StatusSecurityAgreementRequired:
		return d.updateChallenges(res)
	}

	if res.IsProvisional() {
		if to := res.To(); to != nil {
			if tag, ok := to.Params.Get("tag"); ok && tag != "" {
				d.applyRemoteParty(res)
				d.transition(ctx, "early")
			}
		}
		return nil
	}

	if res.IsSuccess() {
		d.applyRemoteParty(res)
		d.transition(ctx, "establish")
		method := sip.RequestMethod("")
		if cseq := res.CSeq(); cseq != nil {
			method = cseq.MethodName
		}
		if method == sip.INVITE {
			d.inviteResponse = res
		}
		if method == sip.REGISTER {
			d.saveServiceRoute(res)
		}
		return nil
	}

	return nil
}

// saveServiceRoute hands a REGISTER 200's Service-Route list to the stack
// so later non-REGISTER dialogs preload it (RFC 3608).
func (d *Dialog) saveServiceRoute(res *sip.Response) {
	h := res.GetHeader("Service-Route")
	if h == nil {
		return
	}
	sr, ok := h.(*sip.ServiceRouteHeader)
	if !ok {
		return
	}
	var routes []sip.Uri
	for hop := sr; hop != nil; hop = hop.Next {
		routes = append(routes, hop.Address)
	}
	d.stack.SetServiceRoutes(routes)
}

func (d *Dialog) applyRemoteParty(res *sip.Response) {
	oldKey := d.Key()

	if to := res.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			d.RemoteTag = tag
		}
	}

	if d.layer != nil && oldKey != d.Key() {
		d.layer.rekey(oldKey, d)
	}

	method := sip.RequestMethod("")
	if cseq := res.CSeq(); cseq != nil {
		method = cseq.MethodName
	}
	if method != sip.REGISTER {
		if c := res.Contact(); c != nil {
			d.RemoteTarget = c.Address
		}
	}

	if rr := res.RecordRoute(); rr != nil {
		d.RouteSet = reverseRecordRoute(rr)
	}
}

// reverseRecordRoute turns a response's Record-Route chain (ordered nearest
// proxy to UAS first, per RFC 3261 §12.1.1/§12.1.2) into a UAC-ordered
// route set.
func reverseRecordRoute(rr *sip.RecordRouteHeader) []sip.Uri {
	var uris []sip.Uri
	for hop := rr; hop != nil; hop = hop.Next {
		uris = append(uris, hop.Address)
	}
	for i, j := 0, len(uris)-1; i < j; i, j = i+1, j-1 {
		uris[i], uris[j] = uris[j], uris[i]
	}
	return uris
}

func (d *Dialog) updateChallenges(res *sip.Response) error {
	method := sip.RequestMethod("")
	if cseq := res.CSeq(); cseq != nil {
		method = cseq.MethodName
	}
	acceptNewVector := method == sip.REGISTER && d.State() == StateEstablished

	for _, h := range res.GetHeaders("WWW-Authenticate") {
		if _, err := d.challenges.update(h.Value(), false, acceptNewVector); err != nil {
			return err
		}
	}
	for _, h := range res.GetHeaders("Proxy-Authenticate") {
		if _, err := d.challenges.update(h.Value(), true, acceptNewVector); err != nil {
			return err
		}
	}
	return nil
}

// GetNewDelay computes the refresh interval to schedule for a dialog
// refresh, read in priority order from a NOTIFY's Subscription-State
// expires param, the Expires header, or a matching Contact's expires param;
// the chosen value is halved, or reduced by 600s above 1200s, to refresh
// comfortably ahead of expiry.
func (d *Dialog) GetNewDelay(msg sip.Message) (time.Duration, bool) {
	if h := msg.GetHeader("Subscription-State"); h != nil {
		if ss, ok := h.(*sip.SubscriptionStateHeader); ok {
			if exp, ok := ss.Expires(); ok {
				return expiresToDelay(exp), true
			}
		}
	}

	if h := msg.GetHeader("Expires"); h != nil {
		if exp, ok := h.(*sip.Expires); ok {
			return expiresToDelay(int(*exp)), true
		}
	}

	for _, h := range msg.GetHeaders("Contact") {
		contact, ok := h.(*sip.ContactHeader)
		if !ok {
			continue
		}
		for hop := contact; hop != nil; hop = hop.Next {
			if !d.contactMatches(hop.Address) {
				continue
			}
			v, ok := hop.Params.Get("expires")
			if !ok {
				continue
			}
			exp, err := strconv.Atoi(v)
			if err != nil || exp < 0 {
				continue
			}
			return expiresToDelay(exp), true
		}
	}

	return 0, false
}

func (d *Dialog) contactMatches(u sip.Uri) bool {
	local := d.stack.Contact.Address
	return u.User == local.User && u.Host == local.Host && u.Port == local.Port
}

func expiresToDelay(expires int) time.Duration {
	var delaySeconds int
	if expires > 1200 {
		delaySeconds = expires - 600
	} else {
		delaySeconds = expires / 2
	}
	return time.Duration(delaySeconds) * time.Second
}

// Hangup sends a BYE and waits for its final response, moving the dialog to
// Terminated regardless of outcome. If the dialog never reached
// Established, it's terminated directly with no BYE, matching
// dialog_client.go's Bye no-op-below-Confirmed behavior.
func (d *Dialog) Hangup(ctx context.Context) error {
	if d.State() != StateEstablished {
		d.transition(ctx, "terminate")
		return nil
	}

	bye, err := d.RequestNew(sip.BYE, RequestOptions{})
	if err != nil {
		return err
	}

	tx, err := d.stack.Transactions.CreateClient(ctx, bye)
	if err != nil {
		return err
	}
	defer tx.Terminate()

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				d.transition(ctx, "terminate")
				return tx.Err()
			}
			if res.IsProvisional() {
				continue
			}
			d.transition(ctx, "terminate")
			return nil
		case <-tx.Done():
			d.transition(ctx, "terminate")
			return tx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown tears the dialog down without sending BYE, for the case where
// the peer already did (dialog_client.go's ReadBye path).
func (d *Dialog) Shutdown(ctx context.Context) {
	d.transition(ctx, "terminate")
}

// Remove unlinks the dialog from its owning Layer, if any.
func (d *Dialog) Remove() {
	if d.layer != nil {
		d.layer.remove(d)
	}
}

// Key identifies the dialog within its Layer: Call-ID plus the local and
// remote tags, per RFC 3261 §12.2.2's dialog matching rule.
func (d *Dialog) Key() Key {
	return Key{CallID: d.CallID, LocalTag: d.LocalTag, RemoteTag: d.RemoteTag}
}
