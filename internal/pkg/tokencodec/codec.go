package tokencodec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingSecret  = errors.New("token signing secret is not configured")
	ErrMalformedToken = errors.New("malformed redemption token")
	ErrBadSignature   = errors.New("redemption token signature mismatch")
)

// Payload is the set of fields bound into a signed redemption token.
type Payload struct {
	TokenID    uuid.UUID
	UserID     uuid.UUID
	MerchantID uuid.UUID
	OfferID    uuid.UUID
	ExpiresAt  time.Time
}

// Codec signs and verifies opaque redemption tokens. It is stateless and
// safe for concurrent use.
type Codec struct {
	secret []byte
}

// New creates a codec. An empty secret is a configuration error: the caller
// must refuse to start rather than issue unsigned tokens.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Sign produces the opaque token string for a payload:
// base64url(canonical payload) + "." + base64url(hmac-sha256).
func (c *Codec) Sign(p Payload) string {
	body := canonical(p)
	mac := c.mac(body)
	return base64.RawURLEncoding.EncodeToString([]byte(body)) + "." + base64.RawURLEncoding.EncodeToString(mac)
}

// Verify authenticates a token string and returns its payload. Expiry is not
// checked here; the lifecycle layer evaluates it against its own clock.
func (c *Codec) Verify(token string) (*Payload, error) {
	dot := strings.IndexByte(token, '.')
	if dot < 0 || dot == len(token)-1 {
		return nil, ErrMalformedToken
	}

	bodyRaw, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, ErrMalformedToken
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(token[dot+1:])
	if err != nil {
		return nil, ErrMalformedToken
	}

	if !hmac.Equal(gotMAC, c.mac(string(bodyRaw))) {
		return nil, ErrBadSignature
	}

	return parsePayload(string(bodyRaw))
}

func (c *Codec) mac(body string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}

// canonical renders the payload in a fixed field order so that signing and
// verification always operate on identical bytes.
func canonical(p Payload) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d",
		p.TokenID, p.UserID, p.MerchantID, p.OfferID, p.ExpiresAt.Unix())
}

func parsePayload(body string) (*Payload, error) {
	parts := strings.Split(body, ":")
	if len(parts) != 5 {
		return nil, ErrMalformedToken
	}

	ids := make([]uuid.UUID, 4)
	for i := 0; i < 4; i++ {
		id, err := uuid.Parse(parts[i])
		if err != nil {
			return nil, ErrMalformedToken
		}
		ids[i] = id
	}

	unix, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return nil, ErrMalformedToken
	}

	return &Payload{
		TokenID:    ids[0],
		UserID:     ids[1],
		MerchantID: ids[2],
		OfferID:    ids[3],
		ExpiresAt:  time.Unix(unix, 0).UTC(),
	}, nil
}
