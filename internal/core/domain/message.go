package domain

import (
	"encoding/json"
	"fmt"
)

// MessageVersion is the protocol version stamped on every outbound message.
const MessageVersion = 1

// Message routes. The route travels in the envelope and selects the concrete
// payload type on decoding.
const (
	CreateAtomicTxRequestRoute           = "createAtomicTxRequest"
	InputsForDepositTxRequestRoute       = "inputsForDepositTxRequest"
	InputsForDepositTxResponseRoute      = "inputsForDepositTxResponse"
	DepositTxMessageRoute                = "depositTxMessage"
	CounterCurrencyTransferStartedRoute  = "counterCurrencyTransferStarted"
	PayoutTxPublishedMessageRoute        = "payoutTxPublishedMessage"
	CancelTradeRequestRoute              = "cancelTradeRequest"
	CancelTradeRequestAcceptedRoute      = "cancelTradeRequestAccepted"
	CancelTradeRequestRejectedRoute      = "cancelTradeRequestRejected"
)

// TradeMessage is the versioned, addressed unit every protocol round is made
// of. A message with a given uid must be applied to trade state at most once,
// no matter how many times it is redelivered.
type TradeMessage interface {
	GetMessageVersion() int
	GetUid() string
	GetTradeId() string
	Route() string
}

// MailboxMessage is a TradeMessage that may be durably stored for later
// pickup when the recipient is unreachable. It always carries the sender
// address, since peers can reconnect from a different address between rounds.
type MailboxMessage interface {
	TradeMessage
	GetSenderAddress() string
}

// RawInput is an opaque, pre-signed transaction input provided by a peer.
type RawInput struct {
	ParentTransaction []byte `json:"parentTransaction"`
	Index             int64  `json:"index"`
	Value             int64  `json:"value"`
}

// TxOutput is a value paid to an address in a transaction under
// construction.
type TxOutput struct {
	Value   int64  `json:"value"`
	Address string `json:"address"`
}

// MessageEnvelope is the on-the-wire frame: a route tag plus the encoded
// concrete message.
type MessageEnvelope struct {
	Route   string          `json:"route"`
	Payload json.RawMessage `json:"payload"`
}

type MessageMeta struct {
	MessageVersion int    `json:"messageVersion"`
	Uid            string `json:"uid"`
	TradeId        string `json:"tradeId"`
}

func (m MessageMeta) GetMessageVersion() int { return m.MessageVersion }
func (m MessageMeta) GetUid() string         { return m.Uid }
func (m MessageMeta) GetTradeId() string     { return m.TradeId }

// CreateAtomicTxRequest is sent by the taker of an atomic swap offer. Unlike
// escrow trades it directly carries the taker's signed input material for
// both legs of the swap.
type CreateAtomicTxRequest struct {
	MessageMeta
	SenderAddress            string     `json:"senderAddress"`
	TakerPubKeyRing          []byte     `json:"takerPubKeyRing"`
	BsqTradeAmount           int64      `json:"bsqTradeAmount"`
	BtcTradeAmount           int64      `json:"btcTradeAmount"`
	TradePrice               int64      `json:"tradePrice"`
	TxFee                    int64      `json:"txFee"`
	TakerFee                 int64      `json:"takerFee"`
	IsCurrencyForTakerFeeBtc bool       `json:"isCurrencyForTakerFeeBtc"`
	TakerBsqOutputValue      int64      `json:"takerBsqOutputValue"`
	TakerBsqOutputAddress    string     `json:"takerBsqOutputAddress"`
	TakerBtcOutputValue      int64      `json:"takerBtcOutputValue"`
	TakerBtcOutputAddress    string     `json:"takerBtcOutputAddress"`
	TakerBsqInputs           []RawInput `json:"takerBsqInputs"`
	TakerBtcInputs           []RawInput `json:"takerBtcInputs"`
}

func (m *CreateAtomicTxRequest) Route() string            { return CreateAtomicTxRequestRoute }
func (m *CreateAtomicTxRequest) GetSenderAddress() string { return m.SenderAddress }

// InputsForDepositTxRequest is the taker's opening message of an escrow
// trade, carrying its raw inputs for the deposit transaction.
type InputsForDepositTxRequest struct {
	MessageMeta
	SenderAddress   string     `json:"senderAddress"`
	TakerPubKeyRing []byte     `json:"takerPubKeyRing"`
	TakerFeeTxId    string     `json:"takerFeeTxId"`
	TakerInputs     []RawInput `json:"takerInputs"`
}

func (m *InputsForDepositTxRequest) Route() string            { return InputsForDepositTxRequestRoute }
func (m *InputsForDepositTxRequest) GetSenderAddress() string { return m.SenderAddress }

// InputsForDepositTxResponse is the maker's answer carrying its own inputs
// and the prepared deposit transaction for co-signing.
type InputsForDepositTxResponse struct {
	MessageMeta
	SenderAddress     string     `json:"senderAddress"`
	MakerPubKeyRing   []byte     `json:"makerPubKeyRing"`
	MakerInputs       []RawInput `json:"makerInputs"`
	PreparedDepositTx []byte     `json:"preparedDepositTx"`
}

func (m *InputsForDepositTxResponse) Route() string            { return InputsForDepositTxResponseRoute }
func (m *InputsForDepositTxResponse) GetSenderAddress() string { return m.SenderAddress }

// DepositTxMessage carries the fully signed, broadcast deposit transaction.
type DepositTxMessage struct {
	MessageMeta
	SenderAddress string `json:"senderAddress"`
	DepositTx     []byte `json:"depositTx"`
}

func (m *DepositTxMessage) Route() string            { return DepositTxMessageRoute }
func (m *DepositTxMessage) GetSenderAddress() string { return m.SenderAddress }

// CounterCurrencyTransferStartedMessage is sent by the buyer once the fiat
// payment has been started.
type CounterCurrencyTransferStartedMessage struct {
	MessageMeta
	SenderAddress       string `json:"senderAddress"`
	CounterCurrencyTxId string `json:"counterCurrencyTxId"`
}

func (m *CounterCurrencyTransferStartedMessage) Route() string {
	return CounterCurrencyTransferStartedRoute
}
func (m *CounterCurrencyTransferStartedMessage) GetSenderAddress() string { return m.SenderAddress }

// PayoutTxPublishedMessage carries the broadcast payout transaction.
type PayoutTxPublishedMessage struct {
	MessageMeta
	SenderAddress string `json:"senderAddress"`
	PayoutTx      []byte `json:"payoutTx"`
}

func (m *PayoutTxPublishedMessage) Route() string            { return PayoutTxPublishedMessageRoute }
func (m *PayoutTxPublishedMessage) GetSenderAddress() string { return m.SenderAddress }

// CancelTradeRequestMessage asks the peer to cancel the trade.
type CancelTradeRequestMessage struct {
	MessageMeta
	SenderAddress string `json:"senderAddress"`
}

func (m *CancelTradeRequestMessage) Route() string            { return CancelTradeRequestRoute }
func (m *CancelTradeRequestMessage) GetSenderAddress() string { return m.SenderAddress }

// CancelTradeRequestAcceptedMessage accepts a cancellation and carries the
// serialized payout transaction refunding the peer.
type CancelTradeRequestAcceptedMessage struct {
	MessageMeta
	SenderAddress string `json:"senderAddress"`
	PayoutTx      []byte `json:"payoutTx"`
}

func (m *CancelTradeRequestAcceptedMessage) Route() string            { return CancelTradeRequestAcceptedRoute }
func (m *CancelTradeRequestAcceptedMessage) GetSenderAddress() string { return m.SenderAddress }

// CancelTradeRequestRejectedMessage rejects a cancellation.
type CancelTradeRequestRejectedMessage struct {
	MessageMeta
	SenderAddress string `json:"senderAddress"`
}

func (m *CancelTradeRequestRejectedMessage) Route() string            { return CancelTradeRequestRejectedRoute }
func (m *CancelTradeRequestRejectedMessage) GetSenderAddress() string { return m.SenderAddress }

// NewMessageMeta stamps the common envelope fields of an outbound message.
func NewMessageMeta(uid, tradeId string) MessageMeta {
	return MessageMeta{MessageVersion: MessageVersion, Uid: uid, TradeId: tradeId}
}

// EncodeMessage wraps a message into its envelope and serializes it.
func EncodeMessage(msg TradeMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msg.Route(), err)
	}
	return json.Marshal(MessageEnvelope{Route: msg.Route(), Payload: payload})
}

// DecodeMessage deserializes an envelope and returns the concrete message
// selected by its route. An unknown route yields ErrUnknownMessageRoute so
// that callers can log and drop it without affecting trade state.
func DecodeMessage(raw []byte) (TradeMessage, error) {
	var envelope MessageEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding message envelope: %w", err)
	}

	var msg TradeMessage
	switch envelope.Route {
	case CreateAtomicTxRequestRoute:
		msg = &CreateAtomicTxRequest{}
	case InputsForDepositTxRequestRoute:
		msg = &InputsForDepositTxRequest{}
	case InputsForDepositTxResponseRoute:
		msg = &InputsForDepositTxResponse{}
	case DepositTxMessageRoute:
		msg = &DepositTxMessage{}
	case CounterCurrencyTransferStartedRoute:
		msg = &CounterCurrencyTransferStartedMessage{}
	case PayoutTxPublishedMessageRoute:
		msg = &PayoutTxPublishedMessage{}
	case CancelTradeRequestRoute:
		msg = &CancelTradeRequestMessage{}
	case CancelTradeRequestAcceptedRoute:
		msg = &CancelTradeRequestAcceptedMessage{}
	case CancelTradeRequestRejectedRoute:
		msg = &CancelTradeRequestRejectedMessage{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageRoute, envelope.Route)
	}

	if err := json.Unmarshal(envelope.Payload, msg); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", envelope.Route, err)
	}
	if msg.GetUid() == "" || msg.GetTradeId() == "" {
		return nil, ErrInvalidMessage
	}
	return msg, nil
}
