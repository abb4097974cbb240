package card

import (
	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/encoding"
	"github.com/moov-io/iso8583/field"
	"github.com/moov-io/iso8583/prefix"
)

// Wire spec for the card processor: ISO 8583 v1987, ASCII fields, binary
// bitmap, 2-byte binary length header (see client.go).
var spec = &iso8583.MessageSpec{
	Name: "Card Processor ISO 8583 ASCII",
	Fields: map[int]field.Field{
		0: field.NewString(&field.Spec{
			Length:      4,
			Description: "Message Type Indicator",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		1: field.NewBitmap(&field.Spec{
			Description: "Bitmap",
			Enc:         encoding.Binary,
			Pref:        prefix.Binary.Fixed,
		}),
		2: field.NewString(&field.Spec{
			Length:      19,
			Description: "Primary Account Number",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.LL,
		}),
		3: field.NewString(&field.Spec{
			Length:      6,
			Description: "Processing Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		4: field.NewString(&field.Spec{
			Length:      12,
			Description: "Transaction Amount",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		11: field.NewString(&field.Spec{
			Length:      6,
			Description: "Systems Trace Audit Number (STAN)",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		14: field.NewString(&field.Spec{
			Length:      4,
			Description: "Expiration Date (YYMM)",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		37: field.NewString(&field.Spec{
			Length:      12,
			Description: "Retrieval Reference Number",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		38: field.NewString(&field.Spec{
			Length:      6,
			Description: "Authorization Identification Response",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		39: field.NewString(&field.Spec{
			Length:      2,
			Description: "Response Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		49: field.NewString(&field.Spec{
			Length:      3,
			Description: "Transaction Currency Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
	},
}

type chargeMessage struct {
	MTI            *field.String `index:"0"`
	PAN            *field.String `index:"2"`
	ProcessingCode *field.String `index:"3"`
	Amount         *field.String `index:"4"`
	STAN           *field.String `index:"11"`
	Expiration     *field.String `index:"14"`
	RRN            *field.String `index:"37"`
	Currency       *field.String `index:"49"`
}

type refundMessage struct {
	MTI            *field.String `index:"0"`
	ProcessingCode *field.String `index:"3"`
	Amount         *field.String `index:"4"`
	STAN           *field.String `index:"11"`
	RRN            *field.String `index:"37"`
	Currency       *field.String `index:"49"`
}

type responseMessage struct {
	MTI          *field.String `index:"0"`
	RRN          *field.String `index:"37"`
	ApprovalCode *field.String `index:"38"`
	ResponseCode *field.String `index:"39"`
}
