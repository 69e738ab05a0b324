// Package x402 implements the HTTP 402 micropayment challenge flow: parse
// the challenge body, build a signed payment payload, and encode it into the
// X-PAYMENT retry header.
package x402

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PaymentHeader is the request header carrying the encoded payment payload.
const PaymentHeader = "X-PAYMENT"

var (
	// ErrNoSigner is returned when a 402 challenge arrives and no payment
	// signer is configured. Callers surface this as x402Required.
	ErrNoSigner = errors.New("x402: no payment signer configured")

	// ErrNoAcceptedScheme is returned when the challenge offers no payment
	// requirements.
	ErrNoAcceptedScheme = errors.New("x402: challenge accepts no schemes")
)

// Challenge is the body of an HTTP 402 response.
type Challenge struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentRequirement is one acceptable payment option in a challenge.
type PaymentRequirement struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// Authorization is the transfer authorisation the signer attests to.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Nonce       string `json:"nonce"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
}

// Signer produces payment signatures. Signers hold key material and cannot
// be serialised across process boundaries.
type Signer interface {
	// Address is the paying account identifier used as the from field.
	Address() string
	// Sign signs the canonical JSON encoding of an authorisation and
	// returns the signature bytes.
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

type paymentPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

type paymentEnvelope struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     paymentPayload `json:"payload"`
}

// ParseChallenge decodes a 402 response body.
func ParseChallenge(body []byte) (*Challenge, error) {
	var ch Challenge
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("x402: parse challenge: %w", err)
	}
	if len(ch.Accepts) == 0 {
		return nil, ErrNoAcceptedScheme
	}
	return &ch, nil
}

// BuildPaymentHeader signs the first accepted requirement of the challenge
// and returns the base64 header value for the retry request.
func BuildPaymentHeader(ctx context.Context, signer Signer, ch *Challenge) (string, error) {
	if signer == nil {
		return "", ErrNoSigner
	}
	if ch == nil || len(ch.Accepts) == 0 {
		return "", ErrNoAcceptedScheme
	}
	req := ch.Accepts[0]

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	now := time.Now().Unix()
	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	auth := Authorization{
		From:        signer.Address(),
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		Nonce:       nonce,
		ValidAfter:  now,
		ValidBefore: now + int64(timeout),
	}

	message, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("x402: encode authorization: %w", err)
	}
	sig, err := signer.Sign(ctx, message)
	if err != nil {
		return "", fmt.Errorf("x402: sign authorization: %w", err)
	}

	envelope := paymentEnvelope{
		X402Version: ch.X402Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: paymentPayload{
			Signature:     base64.StdEncoding.EncodeToString(sig),
			Authorization: auth,
		},
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("x402: encode payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// newNonce returns 32 random bytes hex-encoded.
func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("x402: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
