package l402

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	macaroon "gopkg.in/macaroon.v2"
)

// Location identifies macaroons minted by this service.
const Location = "satring"

// caveatPrefix is the single first-party caveat format binding a macaroon to
// its invoice.
const caveatPrefix = "payment_hash = "

// MintMacaroon builds a macaroon bound to the given payment hash, signed with
// the root key, and returns it base64-encoded.
func MintMacaroon(rootKey, paymentHash string) (string, error) {
	m, err := macaroon.New([]byte(rootKey), []byte(paymentHash), Location, macaroon.LatestVersion)
	if err != nil {
		return "", fmt.Errorf("new macaroon: %w", err)
	}
	if err := m.AddFirstPartyCaveat([]byte(caveatPrefix + paymentHash)); err != nil {
		return "", fmt.Errorf("add caveat: %w", err)
	}
	bin, err := m.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal macaroon: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bin), nil
}

// VerifyCredentials checks a caller-presented (macaroon, preimage) pair
// against the root key. It returns true only when the macaroon deserializes,
// carries a payment_hash caveat, SHA256(preimage) equals that hash, and the
// signature chain verifies. Pure; no I/O.
func VerifyCredentials(rootKey, macaroonB64, preimageHex string) bool {
	m, ok := decodeMacaroon(macaroonB64)
	if !ok {
		return false
	}

	paymentHash, ok := caveatPaymentHash(m)
	if !ok {
		return false
	}

	preimage, err := hex.DecodeString(preimageHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(preimage)
	expected := hex.EncodeToString(digest[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(paymentHash)) != 1 {
		return false
	}

	satisfied := caveatPrefix + paymentHash
	err = m.Verify([]byte(rootKey), func(caveat string) error {
		if caveat == satisfied {
			return nil
		}
		return fmt.Errorf("caveat not satisfied: %q", caveat)
	}, nil)
	return err == nil
}

// PaymentHash extracts the payment hash bound into a macaroon's caveat. The
// boolean is false for malformed macaroons or macaroons without the caveat.
func PaymentHash(macaroonB64 string) (string, bool) {
	m, ok := decodeMacaroon(macaroonB64)
	if !ok {
		return "", false
	}
	return caveatPaymentHash(m)
}

func decodeMacaroon(macaroonB64 string) (*macaroon.Macaroon, bool) {
	raw, err := base64.StdEncoding.DecodeString(macaroonB64)
	if err != nil {
		return nil, false
	}
	m := &macaroon.Macaroon{}
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, false
	}
	return m, true
}

func caveatPaymentHash(m *macaroon.Macaroon) (string, bool) {
	for _, caveat := range m.Caveats() {
		id := string(caveat.Id)
		if strings.HasPrefix(id, caveatPrefix) {
			return strings.TrimPrefix(id, caveatPrefix), true
		}
	}
	return "", false
}
