package sip

import (
	"context"
	"fmt"
	"log/slog"
)

// RequestHandler receives a newly created server transaction for an
// inbound request that is not a retransmission of one already tracked.
type RequestHandler func(req *Request, tx ServerTransaction)

// UnmatchedResponseHandler receives a response that matched no client
// transaction. RFC 3261 §17.1.1.2 calls for these to be silently absorbed,
// so the default handler only logs them rather than treating it as fatal.
type UnmatchedResponseHandler func(res *Response)

func defaultRequestHandler(req *Request, tx ServerTransaction) {
	DefaultLogger().Warn("unhandled SIP request, no handler registered", "caller", "TransactionLayer", "req", req.Short())
}

func defaultUnmatchedResponseHandler(res *Response) {
	DefaultLogger().Info("response matched no transaction, dropped", "caller", "TransactionLayer", "res", res.Short())
}

// TransactionLayer is the transaction directory: it synthesizes branch
// parameters for outbound requests, matches inbound messages to existing
// transactions by (branch, method, role), and owns every transaction's
// lifetime. It depends only on the Transport/Connection collaborator
// interfaces — socket I/O itself is out of scope.
type TransactionLayer struct {
	transport Transport
	log       *slog.Logger

	clientTransactions *transactionStore[*ClientTx]
	serverTransactions *transactionStore[*ServerTx]

	onRequest           RequestHandler
	onUnmatchedResponse UnmatchedResponseHandler
}

func NewTransactionLayer(transport Transport) *TransactionLayer {
	return &TransactionLayer{
		transport:           transport,
		log:                 DefaultLogger().With("caller", "TransactionLayer"),
		clientTransactions:  newTransactionStore[*ClientTx](),
		serverTransactions:  newTransactionStore[*ServerTx](),
		onRequest:           defaultRequestHandler,
		onUnmatchedResponse: defaultUnmatchedResponseHandler,
	}
}

// OnRequest registers the callback invoked for every inbound request that
// creates a new server transaction (CANCEL retransmissions and requests
// matching an existing transaction are handled internally and never reach it).
func (txl *TransactionLayer) OnRequest(h RequestHandler) { txl.onRequest = h }

// OnUnmatchedResponse registers the callback for responses matching no
// client transaction.
func (txl *TransactionLayer) OnUnmatchedResponse(h UnmatchedResponseHandler) {
	txl.onUnmatchedResponse = h
}

// CreateClient synthesizes a fresh z9hG4bK branch on req's top Via if one
// is not already present, then starts the invite-client or
// non-invite-client FSM.
func (txl *TransactionLayer) CreateClient(ctx context.Context, req *Request) (ClientTransaction, error) {
	if req.IsAck() {
		return nil, fmt.Errorf("sip: ACK is written directly on the transaction's connection, it has no transaction of its own")
	}

	via := req.Via()
	if via == nil {
		return nil, fmt.Errorf("sip: request has no Via header")
	}
	if via.Params == nil {
		via.Params = NewParams()
	}
	if branch, ok := via.Params.Get("branch"); !ok || branch == "" {
		via.Params.Add("branch", GenerateBranch())
	}

	key, err := ClientTxKeyMake(req)
	if err != nil {
		return nil, err
	}

	conn, err := txl.transport.GetConnection(req.Destination())
	if err != nil {
		return nil, fmt.Errorf("sip: client transaction connection: %w", err)
	}

	txl.clientTransactions.lock()
	if _, exists := txl.clientTransactions.items[key]; exists {
		txl.clientTransactions.unlock()
		conn.TryClose()
		return nil, fmt.Errorf("sip: client transaction %q already exists", key)
	}
	tx := NewClientTx(key, req, conn, txl.log)
	txl.clientTransactions.items[key] = tx
	tx.OnTerminate(txl.clientTerminated)
	txl.clientTransactions.unlock()

	if err := tx.Init(); err != nil {
		tx.Terminate()
		return nil, err
	}
	return tx, nil
}

// Cancel builds and sends a CANCEL reusing the branch of invite's original
// INVITE, per RFC 3261 §9.1: a CANCEL targets an outstanding INVITE client
// transaction by branch. If invite has already reached
// Completed/Terminated the CANCEL is still sent — RFC 3261 requires it be
// accepted and 200'd even though it produces no effect on the INVITE.
func (txl *TransactionLayer) Cancel(ctx context.Context, invite ClientTransaction) (ClientTransaction, error) {
	ict, ok := invite.(*ClientTx)
	if !ok {
		return nil, fmt.Errorf("sip: Cancel requires a transaction created by this TransactionLayer")
	}
	cancelReq := newCancelRequest(ict.origin)
	return txl.CreateClient(ctx, cancelReq)
}

// FindServer looks up a server transaction by inbound request, honoring
// the RFC 3261 §17.2.3 CANCEL special case: CANCEL matches the INVITE
// server transaction by branch alone, not by method.
func (txl *TransactionLayer) FindServer(req *Request) (ServerTransaction, bool) {
	asMethod := RequestMethod("")
	if req.IsCancel() {
		asMethod = INVITE
	}
	key, err := makeServerTxKey(req, asMethod)
	if err != nil {
		return nil, false
	}
	return txl.getServerTx(key)
}

// FindClient looks up the client transaction a response belongs to, by top
// Via branch and CSeq method.
func (txl *TransactionLayer) FindClient(res *Response) (ClientTransaction, bool) {
	key, err := ClientTxKeyMake(res)
	if err != nil {
		return nil, false
	}
	return txl.getClientTx(key)
}

// HandleRequest routes an inbound request to its existing server
// transaction, or creates one and dispatches it to the registered
// RequestHandler. A CANCEL matching no existing INVITE server transaction
// is passed to the handler like any other request, so the transaction
// user can decide how to answer it.
func (txl *TransactionLayer) HandleRequest(req *Request, conn Connection) error {
	if req.IsCancel() {
		key, err := makeServerTxKey(req, INVITE)
		if err != nil {
			return fmt.Errorf("sip: cancel key: %w", err)
		}
		if tx, exists := txl.getServerTx(key); exists {
			if err := tx.Receive(req); err != nil {
				return fmt.Errorf("sip: cancel receive: %w", err)
			}
			return conn.WriteMsg(NewResponseFromRequest(req, StatusOK, "OK", nil))
		}
		// No matching INVITE transaction: treat as a standalone request and
		// let the transaction user decide (typically a 481).
	}

	key, err := makeServerTxKey(req, "")
	if err != nil {
		return fmt.Errorf("sip: server tx key: %w", err)
	}

	txl.serverTransactions.lock()
	if tx, exists := txl.serverTransactions.items[key]; exists {
		txl.serverTransactions.unlock()
		return tx.Receive(req)
	}

	tx := NewServerTx(key, req, conn, txl.log)
	txl.serverTransactions.items[key] = tx
	tx.OnTerminate(txl.serverTerminated)
	txl.serverTransactions.unlock()

	if err := tx.Init(); err != nil {
		tx.Terminate()
		return err
	}

	txl.onRequest(req, tx)
	return nil
}

// HandleResponse routes an inbound response to its client transaction, or
// to the UnmatchedResponseHandler if none matches.
func (txl *TransactionLayer) HandleResponse(res *Response) {
	tx, exists := txl.FindClient(res)
	if !exists {
		txl.onUnmatchedResponse(res)
		return
	}
	tx.(*ClientTx).Receive(res)
}

func (txl *TransactionLayer) getServerTx(key string) (*ServerTx, bool) {
	return txl.serverTransactions.get(key)
}

func (txl *TransactionLayer) getClientTx(key string) (*ClientTx, bool) {
	return txl.clientTransactions.get(key)
}

func (txl *TransactionLayer) clientTerminated(key string, err error) {
	if !txl.clientTransactions.drop(key) {
		txl.log.Debug("terminate: client transaction already removed", "tx", key)
	}
}

func (txl *TransactionLayer) serverTerminated(key string, err error) {
	if !txl.serverTransactions.drop(key) {
		txl.log.Debug("terminate: server transaction already removed", "tx", key)
	}
}

// Terminate drops and terminates every transaction still tracked. Intended
// for stack shutdown.
func (txl *TransactionLayer) Terminate() {
	txl.clientTransactions.terminateAll()
	txl.serverTransactions.terminateAll()
}
