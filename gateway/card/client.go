// Package card charges and refunds card payments over an ISO 8583 connection
// to the card processor.
package card

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"time"

	"github.com/moov-io/iso8583"
	connection "github.com/moov-io/iso8583-connection"
	"github.com/moov-io/iso8583/field"
	"github.com/moov-io/iso8583/network"

	"github.com/techcorp/payment-core/gateway"
	"github.com/techcorp/payment-core/internal/cardgen"
	"github.com/techcorp/payment-core/internal/expiry"
)

// Response codes per ISO 8583 DE39. Anything not listed maps to a decline
// with the code passed through.
const (
	respApproved          = "00"
	respSystemMalfunction = "96"
	respIssuerInoperative = "91"
)

type Client struct {
	conn *connection.Connection
}

// NewClient connects to the card processor at addr. The connection is
// long-lived; Close releases it.
func NewClient(addr string) (*Client, error) {
	conn, err := connection.New(addr, spec, readMessageLength, writeMessageLength,
		connection.SendTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iso8583 connection: %w", err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to card processor: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Charge sends a 0100 authorization. The STAN and RRN are derived
// deterministically from the payment ID so a retried charge is idempotent at
// the processor: it sees the same trace numbers and must not double-charge.
func (c *Client) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	if req.Source.Card == nil {
		return gateway.Result{Status: gateway.StatusFatal, ReasonCode: "missing_card_source"}, nil
	}
	yymm, err := expiry.YYMMFromParts(req.Source.Card.ExpiryYear, req.Source.Card.ExpiryMonth)
	if err != nil {
		return gateway.Result{Status: gateway.StatusFatal, ReasonCode: "bad_expiry"}, nil
	}
	if err := ctx.Err(); err != nil {
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "deadline"}, err
	}

	msg := iso8583.NewMessage(spec)
	err = msg.Marshal(&chargeMessage{
		MTI:            field.NewStringValue("0100"),
		PAN:            field.NewStringValue(cardgen.NormalizePAN(req.Source.Card.Number)),
		ProcessingCode: field.NewStringValue("000000"),
		Amount:         field.NewStringValue(fmt.Sprintf("%012d", req.Amount)),
		STAN:           field.NewStringValue(deriveSTAN(req.PaymentID)),
		Expiration:     field.NewStringValue(yymm),
		RRN:            field.NewStringValue(deriveRRN(req.PaymentID)),
		Currency:       field.NewStringValue(req.Currency),
	})
	if err != nil {
		return gateway.Result{}, fmt.Errorf("building authorization message: %w", err)
	}

	return c.send(msg)
}

// Refund sends a 0400 reversal against the original retrieval reference.
func (c *Client) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	if req.Reference == "" {
		return gateway.Result{Status: gateway.StatusFatal, ReasonCode: "missing_reference"}, nil
	}
	if err := ctx.Err(); err != nil {
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "deadline"}, err
	}

	msg := iso8583.NewMessage(spec)
	err := msg.Marshal(&refundMessage{
		MTI:            field.NewStringValue("0400"),
		ProcessingCode: field.NewStringValue("200000"),
		Amount:         field.NewStringValue(fmt.Sprintf("%012d", req.Amount)),
		STAN:           field.NewStringValue(deriveSTAN(req.RefundID)),
		RRN:            field.NewStringValue(req.Reference),
		Currency:       field.NewStringValue(req.Currency),
	})
	if err != nil {
		return gateway.Result{}, fmt.Errorf("building reversal message: %w", err)
	}

	return c.send(msg)
}

func (c *Client) send(msg *iso8583.Message) (gateway.Result, error) {
	response, err := c.conn.Send(msg)
	if err != nil {
		// Timeouts and broken connections are transient from the
		// orchestrator's point of view.
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "connection"}, nil
	}

	resp := responseMessage{}
	if err := response.Unmarshal(&resp); err != nil {
		return gateway.Result{}, fmt.Errorf("unmarshaling response: %w", err)
	}

	if resp.ResponseCode == nil {
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "missing_de39"}, nil
	}
	code := resp.ResponseCode.Value()
	switch code {
	case respApproved:
		ref := ""
		if resp.RRN != nil {
			ref = resp.RRN.Value()
		}
		reason := ""
		if resp.ApprovalCode != nil {
			reason = resp.ApprovalCode.Value()
		}
		return gateway.Result{Status: gateway.StatusApproved, Reference: ref, ReasonCode: reason}, nil
	case respSystemMalfunction, respIssuerInoperative:
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: code}, nil
	default:
		return gateway.Result{Status: gateway.StatusDeclined, ReasonCode: code}, nil
	}
}

// deriveSTAN maps an identifier onto the 6-digit DE11 space.
func deriveSTAN(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%06d", h.Sum32()%1_000_000)
}

// deriveRRN maps an identifier onto the 12-character DE37 space.
func deriveRRN(id string) string {
	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("%012d", h.Sum64()%1_000_000_000_000)
}

func readMessageLength(r io.Reader) (int, error) {
	header := network.NewBinary2BytesHeader()
	_, err := header.ReadFrom(r)
	if err != nil {
		return 0, err
	}
	return header.Length(), nil
}

func writeMessageLength(w io.Writer, length int) (int, error) {
	header := network.NewBinary2BytesHeader()
	header.SetLength(length)
	return header.WriteTo(w)
}
