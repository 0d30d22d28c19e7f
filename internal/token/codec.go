// Package token encodes and classifies everything a customer can scan: one-time
// stamp codes, signed QR payloads, encrypted NFC payloads and legacy business
// references. It performs no I/O.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dukerupert/stampd/internal/secure"
)

const (
	OneTimePrefix  = "STAMP_"
	SignedQRPrefix = "STAMP:"

	// DefaultMaxAge is how long a signed payload stays acceptable after issue.
	DefaultMaxAge = 5 * time.Minute

	maxScanLen = 2048
	nonceBytes = 8
	gcmTagSize = 16
)

var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrDecryptionFailed = errors.New("payload rejected")
	ErrPayloadExpired   = errors.New("payload expired")
	ErrClockSkew        = errors.New("payload issued in the future")
)

var (
	codePattern   = regexp.MustCompile(`^[A-Z2-7]{26}$`)
	nfcPattern    = regexp.MustCompile(`^[0-9a-fA-F]{24}:[0-9a-fA-F]+$`)
	legacyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,128}$`)
)

// Kind discriminates the shapes a scan can take.
type Kind int

const (
	KindOneTime Kind = iota + 1
	KindSignedQR
	KindSignedNFC
	KindLegacyRef
)

func (k Kind) String() string {
	switch k {
	case KindOneTime:
		return "one_time"
	case KindSignedQR:
		return "signed_qr"
	case KindSignedNFC:
		return "signed_nfc"
	case KindLegacyRef:
		return "legacy_ref"
	default:
		return "unknown"
	}
}

// Scan is a classified scan. Exactly one of Code, Ref, Sealed or QR is set,
// according to Kind.
type Scan struct {
	Kind   Kind
	Code   string
	Ref    string
	Sealed []byte
	QR     *SignedQR
}

// Payload is the plaintext carried by a signed QR code or an NFC tag.
type Payload struct {
	BusinessID   string    `json:"business_id"`
	BranchNumber int       `json:"branch_number"`
	IssuedAt     time.Time `json:"-"`
	Nonce        string    `json:"nonce"`
}

type wirePayload struct {
	BusinessID   string `json:"business_id"`
	BranchNumber int    `json:"branch_number"`
	IssuedAt     int64  `json:"issued_at"`
	Nonce        string `json:"nonce"`
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePayload{
		BusinessID:   p.BusinessID,
		BranchNumber: p.BranchNumber,
		IssuedAt:     p.IssuedAt.UnixMilli(),
		Nonce:        p.Nonce,
	})
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var w wirePayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	if w.BusinessID == "" || w.IssuedAt <= 0 || w.Nonce == "" {
		return ErrMalformedInput
	}
	*p = Payload{
		BusinessID:   w.BusinessID,
		BranchNumber: w.BranchNumber,
		IssuedAt:     time.UnixMilli(w.IssuedAt).UTC(),
		Nonce:        w.Nonce,
	}
	return nil
}

func newPayload(businessID string, branch int, issuedAt time.Time) (Payload, error) {
	if businessID == "" {
		return Payload{}, fmt.Errorf("business id is required")
	}
	nonce, err := secure.RandomBytes(nonceBytes)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		BusinessID:   businessID,
		BranchNumber: branch,
		IssuedAt:     issuedAt.UTC(),
		Nonce:        hex.EncodeToString(nonce),
	}, nil
}

// EncodePlain renders a one-time token code as scannable text.
func EncodePlain(code string) string {
	return OneTimePrefix + code
}

// DecodeScan classifies raw scanned text. Precedence is fixed and explicit:
//
//  1. "STAMP_" prefix: one-time token
//  2. "STAMP:" prefix: signed QR payload
//  3. "<24 hex>:<hex>": encrypted NFC payload
//  4. bare identifier: legacy business reference
//
// Anything else, including a reserved prefix with a bad body, is
// ErrMalformedInput.
func DecodeScan(raw string) (Scan, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxScanLen {
		return Scan{}, ErrMalformedInput
	}

	switch {
	case strings.HasPrefix(raw, OneTimePrefix):
		code := strings.TrimPrefix(raw, OneTimePrefix)
		if !codePattern.MatchString(code) {
			return Scan{}, ErrMalformedInput
		}
		return Scan{Kind: KindOneTime, Code: code}, nil

	case strings.HasPrefix(raw, SignedQRPrefix):
		qr, err := parseSignedQR(strings.TrimPrefix(raw, SignedQRPrefix))
		if err != nil {
			return Scan{}, err
		}
		return Scan{Kind: KindSignedQR, QR: qr}, nil

	case nfcPattern.MatchString(raw):
		sealed, err := ParseNFC(raw)
		if err != nil {
			return Scan{}, err
		}
		return Scan{Kind: KindSignedNFC, Sealed: sealed}, nil

	case legacyPattern.MatchString(raw):
		return Scan{Kind: KindLegacyRef, Ref: raw}, nil
	}

	return Scan{}, ErrMalformedInput
}

// EncodeSignedPayload builds a fresh payload for the business and seals it
// under key, returning iv || ciphertext. Every call yields different bytes.
func EncodeSignedPayload(businessID string, branch int, key []byte, issuedAt time.Time) ([]byte, error) {
	p, err := newPayload(businessID, branch, issuedAt)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	iv, err := secure.NewIV()
	if err != nil {
		return nil, err
	}
	ciphertext, err := secure.Encrypt(key, iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecodeSignedPayload opens iv || ciphertext under key. Authentication
// failure of any kind is ErrDecryptionFailed; a payload that authenticates
// but does not parse is ErrMalformedInput.
func DecodeSignedPayload(sealed, key []byte) (Payload, error) {
	if len(sealed) < secure.IVSize+gcmTagSize {
		return Payload{}, ErrMalformedInput
	}
	iv, ciphertext := sealed[:secure.IVSize], sealed[secure.IVSize:]

	plaintext, err := secure.Decrypt(key, iv, ciphertext)
	if err != nil {
		return Payload{}, ErrDecryptionFailed
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return Payload{}, ErrMalformedInput
	}
	return p, nil
}

// FormatNFC renders sealed bytes in the tag wire form "hex(iv):hex(ciphertext)".
func FormatNFC(sealed []byte) string {
	if len(sealed) < secure.IVSize {
		return hex.EncodeToString(sealed)
	}
	return hex.EncodeToString(sealed[:secure.IVSize]) + ":" + hex.EncodeToString(sealed[secure.IVSize:])
}

// ParseNFC is the inverse of FormatNFC.
func ParseNFC(s string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(ivHex) != 2*secure.IVSize {
		return nil, ErrMalformedInput
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, ErrMalformedInput
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) < gcmTagSize {
		return nil, ErrMalformedInput
	}
	return append(iv, ct...), nil
}

// CheckFreshness rejects payloads older than maxAge or stamped in the future.
func CheckFreshness(p Payload, now time.Time, maxAge time.Duration) error {
	age := now.Sub(p.IssuedAt)
	if age < 0 {
		return ErrClockSkew
	}
	if age > maxAge {
		return ErrPayloadExpired
	}
	return nil
}

// SignedQR is a parsed but not yet verified "STAMP:" payload. BusinessID is
// readable before verification so the caller can select the key.
type SignedQR struct {
	Payload Payload
	body    []byte
	mac     []byte
}

// EncodeSignedQR renders a fresh payload as "STAMP:" + base64url(json) + "." +
// base64url(HMAC-SHA256(macKey, json)).
func EncodeSignedQR(businessID string, branch int, macKey []byte, issuedAt time.Time) (string, error) {
	p, err := newPayload(businessID, branch, issuedAt)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	mac := secure.Sign(macKey, body)
	enc := base64.RawURLEncoding
	return SignedQRPrefix + enc.EncodeToString(body) + "." + enc.EncodeToString(mac), nil
}

func parseSignedQR(s string) (*SignedQR, error) {
	bodyB64, macB64, ok := strings.Cut(s, ".")
	if !ok {
		return nil, ErrMalformedInput
	}
	enc := base64.RawURLEncoding
	body, err := enc.DecodeString(bodyB64)
	if err != nil {
		return nil, ErrMalformedInput
	}
	mac, err := enc.DecodeString(macB64)
	if err != nil || len(mac) != secure.MACSize {
		return nil, ErrMalformedInput
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformedInput
	}
	return &SignedQR{Payload: p, body: body, mac: mac}, nil
}

// Verify checks the signature under macKey and returns the payload.
func (q *SignedQR) Verify(macKey []byte) (Payload, error) {
	if !secure.Verify(macKey, q.body, q.mac) {
		return Payload{}, ErrDecryptionFailed
	}
	return q.Payload, nil
}
