package query

import (
	"encoding/base64"
	"encoding/json"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
)

// Cursor marks a position under a specific sort order. SortValues holds the
// last row's value for each sort key; ID is the tiebreaker.
type Cursor struct {
	SortValues []any  `json:"s"`
	ID         string `json:"id"`
}

// EncodeCursor produces the opaque token handed to clients.
func EncodeCursor(sortValues []any, id string) string {
	payload, _ := json.Marshal(Cursor{SortValues: sortValues, ID: id})
	return base64.URLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a client-supplied token.
func DecodeCursor(token string) (*Cursor, error) {
	payload, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.New(errors.CodeValidation, "invalid cursor").WithDetail("cursor", token)
	}

	var cursor Cursor
	if err := json.Unmarshal(payload, &cursor); err != nil {
		return nil, errors.New(errors.CodeValidation, "invalid cursor").WithDetail("cursor", token)
	}
	if cursor.ID == "" {
		return nil, errors.New(errors.CodeValidation, "invalid cursor").WithDetail("cursor", token)
	}

	return &cursor, nil
}
