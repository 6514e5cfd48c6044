package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Keyset identifies the last row of a page ordered by (createdAt, id).
type Keyset struct {
	CreatedAt time.Time
	ID        string
}

// token is the JSON payload behind a page token. Order listings and the Firestore and Postgres
// stock ledgers page by keyset; the in-memory stock ledger pages by offset.
type token struct {
	Kind      string    `json:"k"`
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id,omitempty"`
	Offset    int       `json:"o,omitempty"`
}

const (
	kindKeyset = "ks"
	kindOffset = "off"
)

func encode(t token) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decode(raw string) (token, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return token{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return token{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	switch {
	case t.Kind == kindKeyset && (t.ID == "" || t.CreatedAt.IsZero()):
		return token{}, fmt.Errorf("%w: keyset needs createdAt and id", ErrInvalidPageToken)
	case t.Kind == kindOffset && t.Offset <= 0:
		return token{}, fmt.Errorf("%w: offset must be positive", ErrInvalidPageToken)
	case t.Kind != kindKeyset && t.Kind != kindOffset:
		return token{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidPageToken, t.Kind)
	}
	return t, nil
}

// EncodeKeyset builds a token that resumes after the row (createdAt, id).
func EncodeKeyset(createdAt time.Time, id string) (string, error) {
	return encode(token{Kind: kindKeyset, CreatedAt: createdAt.UTC(), ID: id})
}

// DecodeKeyset reverses EncodeKeyset. Offset tokens are rejected.
func DecodeKeyset(raw string) (Keyset, error) {
	t, err := decode(raw)
	if err != nil {
		return Keyset{}, err
	}
	if t.Kind != kindKeyset {
		return Keyset{}, fmt.Errorf("%w: not a keyset token", ErrInvalidPageToken)
	}
	return Keyset{CreatedAt: t.CreatedAt, ID: t.ID}, nil
}

// EncodeOffset returns "" for offsets that need no token.
func EncodeOffset(offset int) (string, error) {
	if offset <= 0 {
		return "", nil
	}
	return encode(token{Kind: kindOffset, Offset: offset})
}

// DecodeOffset reverses EncodeOffset; the empty token is offset zero.
func DecodeOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	t, err := decode(raw)
	if err != nil {
		return 0, err
	}
	if t.Kind != kindOffset {
		return 0, fmt.Errorf("%w: not an offset token", ErrInvalidPageToken)
	}
	return t.Offset, nil
}
