package wstransport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/peertrade-network/peertrade-daemon/internal/core/application"
	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
	"github.com/peertrade-network/peertrade-daemon/pkg/circuitbreaker"
)

const (
	inboxPath = "/inbox"
	ackText   = "ack"
)

// frame is the transport-level wrapper of one raw trade message. The sender
// declares its own listen address so the recipient can reply even when the
// dialing socket address differs from it.
type frame struct {
	From string `json:"from"`
	Data []byte `json:"data"`
}

type service struct {
	myAddress   string
	myPubKey    []byte
	sendTimeout time.Duration

	breaker      *gobreaker.CircuitBreaker
	mailboxStore *application.ProtectedDataStoreService

	handlerMtx sync.RWMutex
	handler    ports.MessageHandler

	peerKeysMtx sync.Mutex
	peerKeys    map[string][]byte
	mailboxSeq  int

	upgrader websocket.Upgrader
	server   *http.Server
}

// Service is the websocket implementation of the transport port, extended
// with the mailbox maintenance entry points the daemon wires up at boot.
type Service interface {
	ports.Transport

	Start() error
	Stop()
	RegisterPeerKey(peerAddress string, pubKey []byte)
	PickupMailbox()
	RemoveMailboxMessage(uid string)
}

// NewService returns a transport listening on myAddress. Direct sends go
// through a circuit breaker; when direct delivery fails the message is
// durably stored in the recipient's mailbox inside the protected store.
func NewService(
	myAddress string,
	myPubKey []byte,
	mailboxStore *application.ProtectedDataStoreService,
	sendTimeout time.Duration,
) Service {
	return &service{
		myAddress:    myAddress,
		myPubKey:     myPubKey,
		sendTimeout:  sendTimeout,
		breaker:      circuitbreaker.NewCircuitBreaker("transport"),
		mailboxStore: mailboxStore,
		peerKeys:     make(map[string][]byte),
		upgrader:     websocket.Upgrader{},
	}
}

func (s *service) MyAddress() string {
	return s.myAddress
}

func (s *service) RegisterHandler(handler ports.MessageHandler) {
	s.handlerMtx.Lock()
	defer s.handlerMtx.Unlock()
	s.handler = handler
}

// RegisterPeerKey records the public key owning a peer's mailbox entries.
func (s *service) RegisterPeerKey(peerAddress string, pubKey []byte) {
	s.peerKeysMtx.Lock()
	defer s.peerKeysMtx.Unlock()
	s.peerKeys[peerAddress] = pubKey
}

// Send attempts direct delivery first and falls back to the recipient's
// mailbox when the peer is unreachable or the breaker is open.
func (s *service) Send(
	ctx context.Context, peerAddress string, raw []byte,
) (ports.SendOutcome, error) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.sendDirect(ctx, peerAddress, raw)
	})
	if err == nil {
		return ports.SendOutcomeArrived, nil
	}

	log.WithError(err).Debugf("direct delivery to %s failed, trying mailbox", peerAddress)
	if mbErr := s.storeInMailbox(peerAddress, raw); mbErr != nil {
		return ports.SendOutcomeFailed, fmt.Errorf(
			"direct delivery: %v, mailbox fallback: %w", err, mbErr,
		)
	}
	return ports.SendOutcomeStoredInMailbox, nil
}

// Start serves the inbox endpoint until Stop is called. It blocks.
func (s *service) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(inboxPath, s.handleInbox)
	s.server = &http.Server{Addr: s.myAddress, Handler: mux}

	log.Infof("transport listening on %s", s.myAddress)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *service) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// nolint
		s.server.Shutdown(ctx)
	}
}

// PickupMailbox replays the mailbox entries addressed to this node to the
// registered handler. Called once at boot after the handler registration.
func (s *service) PickupMailbox() {
	for _, entry := range s.mailboxStore.GetMap() {
		payload, ok := entry.Payload.(*domain.MailboxPayload)
		if !ok || payload.RecipientAddress != s.myAddress {
			continue
		}
		log.Debugf("picking up mailbox message from %s", payload.SenderAddress)
		s.deliver(payload.Message, payload.SenderAddress, true)
	}
}

// RemoveMailboxMessage removes the mailbox entry holding the message with
// the given uid, proving ownership with this node's own key.
func (s *service) RemoveMailboxMessage(uid string) {
	for hash, entry := range s.mailboxStore.GetMap() {
		payload, ok := entry.Payload.(*domain.MailboxPayload)
		if !ok || payload.RecipientAddress != s.myAddress {
			continue
		}
		msg, err := domain.DecodeMessage(payload.Message)
		if err != nil || msg.GetUid() != uid {
			continue
		}
		if _, err := s.mailboxStore.Remove(hash, entry); err != nil {
			log.WithError(err).Warnf("could not remove mailbox message %s", uid)
		}
		return
	}
}

func (s *service) sendDirect(ctx context.Context, peerAddress string, raw []byte) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s%s", peerAddress, inboxPath)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	payload, err := json.Marshal(frame{From: s.myAddress, Data: raw})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.sendTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	_, ack, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if string(ack) != ackText {
		return fmt.Errorf("unexpected ack %q", ack)
	}
	return nil
}

func (s *service) storeInMailbox(peerAddress string, raw []byte) error {
	payload := &domain.MailboxPayload{
		RecipientAddress: peerAddress,
		RecipientPubKey:  s.peerKey(peerAddress),
		SenderAddress:    s.myAddress,
		Message:          raw,
	}

	s.peerKeysMtx.Lock()
	s.mailboxSeq++
	seq := s.mailboxSeq
	s.peerKeysMtx.Unlock()

	entry := &domain.ProtectedStorageEntry{
		Payload:        payload,
		OwnerPubKey:    payload.RecipientPubKey,
		SequenceNumber: seq,
		CreationTime:   time.Now().Unix(),
	}
	return s.mailboxStore.Put(hex.EncodeToString(payload.Hash()), entry)
}

func (s *service) peerKey(peerAddress string) []byte {
	s.peerKeysMtx.Lock()
	defer s.peerKeysMtx.Unlock()
	if key, ok := s.peerKeys[peerAddress]; ok {
		return key
	}
	// Message encryption and signing happen below this layer; without a
	// known key the address itself identifies the mailbox owner.
	return []byte(peerAddress)
}

func (s *service) handleInbox(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("could not upgrade inbox connection")
		return
	}
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			log.WithError(err).Warn("dropping malformed transport frame")
			continue
		}

		s.deliver(f.Data, f.From, false)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ackText)); err != nil {
			return
		}
	}
}

func (s *service) deliver(raw []byte, senderAddress string, fromMailbox bool) {
	s.handlerMtx.RLock()
	handler := s.handler
	s.handlerMtx.RUnlock()

	if handler == nil {
		log.Warn("dropping inbound message: no handler registered")
		return
	}
	handler(raw, senderAddress, fromMailbox)
}
