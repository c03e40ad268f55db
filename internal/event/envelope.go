package event

import (
	"liquidation_go/internal/domain"
)

// Envelope is the serialised form of a domain event, used for persistence
// and for the event stream. Amounts are decimal strings in raw units. Seq is
// only set on envelopes read back from storage.
type Envelope struct {
	Seq       uint64 `json:"seq,omitempty"`
	Kind      string `json:"kind"`
	Marker    uint64 `json:"marker"`
	VaultID   string `json:"vault_id,omitempty"`
	Bid       string `json:"bid,omitempty"`
	Caller    string `json:"caller,omitempty"`
	Signature string `json:"signature,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// Encode converts a domain event into an Envelope.
func Encode(ev domain.Event) Envelope {
	switch e := ev.(type) {
	case domain.SettlementCompleted:
		env := Envelope{
			Kind:    string(e.Kind()),
			Marker:  e.Marker,
			VaultID: e.VaultID.Dec(),
			Bid:     e.Bid.Dec(),
			Caller:  e.Caller.Hex(),
		}
		if e.Signature != (domain.SignatureKey{}) {
			env.Signature = e.Signature.Hex()
		}
		return env
	case domain.ValueReceived:
		return Envelope{
			Kind:   string(e.Kind()),
			Marker: e.Marker,
			Sender: e.Sender.Hex(),
			Amount: e.Amount.Dec(),
		}
	default:
		return Envelope{Kind: string(ev.Kind())}
	}
}
