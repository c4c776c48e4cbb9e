package dialog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipuacore/imsstack/sip"
)

func TestLayerAddAndFindRequest(t *testing.T) {
	layer := NewLayer()
	d, err := NewDialog(RoleUAS, testStack(t), "call-uas-1", Operation{
		From: &sip.FromHeader{
			Address: sip.Uri{Scheme: "sip", User: "bob", Host: "ims.example.com"},
			Params:  func() sip.HeaderParams { p := sip.NewParams(); p.Add("tag", "bob-tag"); return p }(),
		},
	})
	require.NoError(t, err)
	layer.Add(d)

	req := sip.NewRequest(sip.BYE, d.RemoteTarget)
	callID := sip.CallID("call-uas-1")
	req.AppendHeader(&callID)
	from := &sip.FromHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	from.Params.Add("tag", "bob-tag")
	req.AppendHeader(from)
	to := &sip.ToHeader{Address: d.LocalURI, Params: sip.NewParams()}
	to.Params.Add("tag", d.LocalTag)
	req.AppendHeader(to)

	found, ok := layer.FindRequest(req)
	require.True(t, ok)
	assert.Same(t, d, found)
	assert.Equal(t, 1, layer.Len())
}

func TestLayerFindResponse(t *testing.T) {
	layer := NewLayer()
	d, err := NewDialog(RoleUAC, testStack(t), "call-uac-1", testOperation())
	require.NoError(t, err)
	d.RemoteTag = "bob-tag"
	layer.Add(d)

	res := sip.NewResponse(200, "OK")
	callID := sip.CallID("call-uac-1")
	res.AppendHeader(&callID)
	from := &sip.FromHeader{Address: d.LocalURI, Params: sip.NewParams()}
	from.Params.Add("tag", d.LocalTag)
	res.AppendHeader(from)
	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	to.Params.Add("tag", "bob-tag")
	res.AppendHeader(to)

	found, ok := layer.FindResponse(res)
	require.True(t, ok)
	assert.Same(t, d, found)
}

func TestLayerRekeyOnRemoteTagLearned(t *testing.T) {
	layer := NewLayer()
	d, err := NewDialog(RoleUAC, testStack(t), "call-uac-2", testOperation())
	require.NoError(t, err)
	layer.Add(d)

	res := sip.NewResponse(200, "OK")
	res.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	to.Params.Add("tag", "learned-tag")
	res.AppendHeader(to)

	require.NoError(t, d.Update(context.Background(), res))
	assert.Equal(t, 1, layer.Len(), "rekey replaces the old entry rather than adding a second one")

	found, ok := layer.FindResponse(res)
	require.True(t, ok)
	assert.Same(t, d, found)
}

func TestLayerRemove(t *testing.T) {
	layer := NewLayer()
	d, err := NewDialog(RoleUAC, testStack(t), "call-uac-3", testOperation())
	require.NoError(t, err)
	layer.Add(d)
	require.Equal(t, 1, layer.Len())

	d.Remove()
	assert.Equal(t, 0, layer.Len())
}
