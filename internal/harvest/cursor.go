package harvest

import (
	"encoding/base64"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Cursor is a resumption point within whichever storage tier a job used. For
// the batched tier it addresses (batch, offset-within-batch); for the blob
// tier, a flat element offset. Callers only ever see the opaque encoded form.
type Cursor struct {
	Tier   StorageTier `json:"t"`
	Batch  int         `json:"b,omitempty"`
	Offset int         `json:"o"`
}

// Encode serializes the cursor into an opaque URL-safe token.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque token produced by Encode. An empty token
// yields the zero cursor for the given tier.
func DecodeCursor(token string, tier StorageTier) (Cursor, error) {
	if token == "" {
		return Cursor{Tier: tier}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, eris.Wrap(ErrInvalidCursor, err.Error())
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, eris.Wrap(ErrInvalidCursor, err.Error())
	}
	if c.Batch < 0 || c.Offset < 0 {
		return Cursor{}, eris.Wrap(ErrInvalidCursor, "negative position")
	}

	// A cursor issued under one tier remains valid if the job was promoted
	// mid-pagination: promotion only happens before completion, and batched
	// rows stay in place either way.
	return c, nil
}
