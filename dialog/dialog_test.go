package dialog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipuacore/imsstack/sip"
)

func testStack(t *testing.T) *Stack {
	t.Helper()
	contact := sip.ContactHeader{Address: sip.Uri{Scheme: "sip", User: "alice", Host: "192.0.2.10", Port: 5060}}
	s, err := NewStack(nil, contact,
		WithRealm("ims.example.com"),
		WithPublicIdentity(sip.Uri{Scheme: "sip", User: "alice", Host: "ims.example.com"}),
		WithPrivateIdentity("alice@ims.example.com"),
	)
	require.NoError(t, err)
	return s
}

func testOperation() Operation {
	return Operation{
		To: &sip.ToHeader{Address: sip.Uri{Scheme: "sip", User: "bob", Host: "ims.example.com"}},
	}
}

func TestNewDialogSeedsIdentity(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "", testOperation())
	require.NoError(t, err)

	assert.NotEmpty(t, d.CallID)
	assert.NotEmpty(t, d.LocalTag)
	assert.Equal(t, StateInitial, d.State())
	assert.Equal(t, "bob", d.RemoteURI.User)
}

func TestRequestNewBasicHeaders(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-1", testOperation())
	require.NoError(t, err)

	req, err := d.RequestNew(sip.REGISTER, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "call-1", string(*req.CallID()))
	from := req.From()
	require.NotNil(t, from)
	tag, ok := from.Params.Get("tag")
	assert.True(t, ok)
	assert.Equal(t, d.LocalTag, tag)

	to := req.To()
	require.NotNil(t, to)
	_, hasToTag := to.Params.Get("tag")
	assert.False(t, hasToTag, "outbound dialog-creating request must not carry a remote tag yet")

	require.NotNil(t, req.CSeq())
	require.NotNil(t, req.Contact())
}

func TestRequestNewCSeqMonotonicity(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-2", testOperation())
	require.NoError(t, err)

	first, err := d.RequestNew(sip.REGISTER, RequestOptions{})
	require.NoError(t, err)
	seeded := first.CSeq().SeqNo

	second, err := d.RequestNew(sip.REGISTER, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, seeded+1, second.CSeq().SeqNo)

	cancel, err := d.RequestNew(sip.CANCEL, RequestOptions{InReplyTo: second})
	require.NoError(t, err)
	assert.Equal(t, second.CSeq().SeqNo, cancel.CSeq().SeqNo, "CANCEL reuses the CSeq of the request it cancels")

	ack, err := d.RequestNew(sip.ACK, RequestOptions{InReplyTo: second})
	require.NoError(t, err)
	assert.Equal(t, second.CSeq().SeqNo, ack.CSeq().SeqNo)

	third, err := d.RequestNew(sip.REGISTER, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, seeded+2, third.CSeq().SeqNo, "ACK/CANCEL never advance the dialog's running CSeq")
}

func TestRequestNewRejectsACKWithoutInReplyTo(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-3", testOperation())
	require.NoError(t, err)
	_, err = d.RequestNew(sip.ACK, RequestOptions{})
	assert.Error(t, err)
}

func TestRequestNewRejectedAfterTermination(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-4", testOperation())
	require.NoError(t, err)
	d.Shutdown(context.Background())

	_, err = d.RequestNew(sip.BYE, RequestOptions{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRequestNewRoutePreloading(t *testing.T) {
	stack := testStack(t)
	pcscf := sip.Uri{Scheme: "sip", Host: "pcscf.example.com", UriParams: func() sip.HeaderParams {
		p := sip.NewParams()
		p.Add("lr", "")
		return p
	}()}
	stack.PCSCF = func() (sip.Uri, error) { return pcscf, nil }
	stack.ServiceRoutes = []sip.Uri{{Scheme: "sip", Host: "scscf.example.com", UriParams: func() sip.HeaderParams {
		p := sip.NewParams()
		p.Add("lr", "")
		return p
	}()}}

	d, err := NewDialog(RoleUAC, stack, "call-5", testOperation())
	require.NoError(t, err)

	req, err := d.RequestNew(sip.INVITE, RequestOptions{})
	require.NoError(t, err)

	// loose-routing first hop: Request-URI stays the remote target, and the
	// whole preloaded route set is copied into Route headers.
	assert.Equal(t, "bob", req.Recipient.User)
	route := req.Route()
	require.NotNil(t, route)
	assert.Equal(t, "pcscf.example.com", route.Address.Host)
	require.NotNil(t, route.Next)
	assert.Equal(t, "scscf.example.com", route.Next.Address.Host)
}

func TestRequestNewStrictRouteBecomesRequestURI(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-6", testOperation())
	require.NoError(t, err)
	d.RouteSet = []sip.Uri{{Scheme: "sip", Host: "strict.example.com"}}

	req, err := d.RequestNew(sip.INVITE, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "strict.example.com", req.Recipient.Host)
	route := req.Route()
	require.NotNil(t, route)
	assert.Equal(t, "bob", route.Address.User)
}

func TestUpdateProvisionalMovesToEarly(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-7", testOperation())
	require.NoError(t, err)

	res := sip.NewResponse(180, "Ringing")
	res.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	to.Params.Add("tag", "remote-tag-1")
	res.AppendHeader(to)

	require.NoError(t, d.Update(context.Background(), res))
	assert.Equal(t, StateEarly, d.State())
	assert.Equal(t, "remote-tag-1", d.RemoteTag)
}

func TestUpdateSuccessMovesToEstablishedAndReversesRouteSet(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-8", testOperation())
	require.NoError(t, err)

	res := sip.NewResponse(200, "OK")
	res.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	to.Params.Add("tag", "remote-tag-2")
	res.AppendHeader(to)
	res.AppendHeader(&sip.RecordRouteHeader{
		Address: sip.Uri{Scheme: "sip", Host: "near-uas.example.com"},
		Next:    &sip.RecordRouteHeader{Address: sip.Uri{Scheme: "sip", Host: "near-uac.example.com"}},
	})

	require.NoError(t, d.Update(context.Background(), res))
	assert.Equal(t, StateEstablished, d.State())
	require.Len(t, d.RouteSet, 2)
	assert.Equal(t, "near-uac.example.com", d.RouteSet[0].Host)
	assert.Equal(t, "near-uas.example.com", d.RouteSet[1].Host)
}

func TestRequestNewRegisterEmptyCredentialsWhenEarlyIMSDisabled(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-earlyims", testOperation())
	require.NoError(t, err)

	req, err := d.RequestNew(sip.REGISTER, RequestOptions{})
	require.NoError(t, err)

	auth := req.GetHeader("Authorization")
	require.NotNil(t, auth, "earlyIMS disabled REGISTER with no active challenges still carries empty credentials")
	assert.Contains(t, auth.Value(), `username="alice@ims.example.com"`)
	assert.Contains(t, auth.Value(), `realm="ims.example.com"`)
	assert.Contains(t, auth.Value(), `nonce=""`)
	assert.Contains(t, auth.Value(), `response=""`)
}

func TestRequestNewRegisterNoAuthorizationWhenEarlyIMSEnabled(t *testing.T) {
	stack := testStack(t)
	stack.EnableEarlyIMS = true
	d, err := NewDialog(RoleUAC, stack, "call-earlyims-2", testOperation())
	require.NoError(t, err)

	req, err := d.RequestNew(sip.REGISTER, RequestOptions{})
	require.NoError(t, err)

	assert.Nil(t, req.GetHeader("Authorization"), "early-IMS skips Authorization on REGISTER per 3GPP TS 33.978")
}

func TestUpdateChallengeThenRequestNewAttachesAuthorization(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-9", testOperation())
	require.NoError(t, err)

	res := sip.NewResponse(401, "Unauthorized")
	res.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.REGISTER})
	h := sip.WWWAuthenticateHeader(wwwChallenge)
	res.AppendHeader(&h)

	require.NoError(t, d.Update(context.Background(), res))
	assert.Equal(t, StateInitial, d.State(), "a 401 does not move the dialog's lifecycle state")

	req, err := d.RequestNew(sip.REGISTER, RequestOptions{Password: "secret"})
	require.NoError(t, err)
	auth := req.GetHeader("Authorization")
	require.NotNil(t, auth)
	assert.Contains(t, auth.Value(), `realm="ims.example.com"`)
}

func TestUpdateChallengeReplayRejected(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-10", testOperation())
	require.NoError(t, err)

	first := sip.NewResponse(401, "Unauthorized")
	first.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.REGISTER})
	h1 := sip.WWWAuthenticateHeader(wwwChallenge)
	first.AppendHeader(&h1)
	require.NoError(t, d.Update(context.Background(), first))

	second := sip.NewResponse(401, "Unauthorized")
	second.AppendHeader(&sip.CSeq{SeqNo: 2, MethodName: sip.REGISTER})
	h2 := sip.WWWAuthenticateHeader(wwwChallengeFresh)
	second.AppendHeader(&h2)

	err = d.Update(context.Background(), second)
	assert.ErrorIs(t, err, ErrBadNonce, "still Initial, so a REGISTER replay isn't treated as a new AKA vector")
}

func TestGetNewDelayPriority(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-11", testOperation())
	require.NoError(t, err)

	t.Run("SubscriptionStateWins", func(t *testing.T) {
		notify := sip.NewRequest(sip.NOTIFY, d.RemoteTarget)
		ss := &sip.SubscriptionStateHeader{State: "active", Params: sip.NewParams()}
		ss.Params.Add("expires", "3000")
		notify.AppendHeader(ss)
		exp := sip.Expires(9999)
		notify.AppendHeader(&exp)

		delay, ok := d.GetNewDelay(notify)
		require.True(t, ok)
		assert.Equal(t, int64(2400000), delay.Milliseconds())
	})

	t.Run("ExpiresHeaderFallback", func(t *testing.T) {
		res := sip.NewResponse(200, "OK")
		exp := sip.Expires(3000)
		res.AppendHeader(&exp)

		delay, ok := d.GetNewDelay(res)
		require.True(t, ok)
		assert.Equal(t, int64(2400000), delay.Milliseconds())
	})

	t.Run("ShortExpiresHalved", func(t *testing.T) {
		res := sip.NewResponse(200, "OK")
		exp := sip.Expires(1000)
		res.AppendHeader(&exp)

		delay, ok := d.GetNewDelay(res)
		require.True(t, ok)
		assert.Equal(t, int64(500000), delay.Milliseconds())
	})

	t.Run("ContactExpiresParam", func(t *testing.T) {
		res := sip.NewResponse(200, "OK")
		contact := &sip.ContactHeader{Address: d.stack.Contact.Address, Params: sip.NewParams()}
		contact.Params.Add("expires", "3000")
		res.AppendHeader(contact)

		delay, ok := d.GetNewDelay(res)
		require.True(t, ok)
		assert.Equal(t, int64(2400000), delay.Milliseconds())
	})

	t.Run("NoneFound", func(t *testing.T) {
		res := sip.NewResponse(200, "OK")
		_, ok := d.GetNewDelay(res)
		assert.False(t, ok)
	})
}

func TestHangupOnUnestablishedDialogTerminatesWithoutBye(t *testing.T) {
	d, err := NewDialog(RoleUAC, testStack(t), "call-12", testOperation())
	require.NoError(t, err)

	require.NoError(t, d.Hangup(context.Background()))
	assert.Equal(t, StateTerminated, d.State())
}
