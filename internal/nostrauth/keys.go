package nostrauth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	hrpPublic = "npub"
	hrpSecret = "nsec"
)

// ErrInvalidKey is returned when a key string cannot be decoded.
var ErrInvalidKey = errors.New("invalid key")

// KeyPair holds a secp256k1 keypair in the hex and bech32 encodings Nostr
// clients expect.
type KeyPair struct {
	SecretHex string `json:"privateKey"`
	Nsec      string `json:"nsec"`
	PubkeyHex string `json:"pubkey"`
	Npub      string `json:"npub"`
}

// GenerateKeyPair creates a fresh random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return keyPairFromPrivate(priv)
}

// KeyPairFromSecret rebuilds a keypair from a hex or nsec secret.
func KeyPairFromSecret(secret string) (*KeyPair, error) {
	priv, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	return keyPairFromPrivate(priv)
}

func keyPairFromPrivate(priv *btcec.PrivateKey) (*KeyPair, error) {
	secret := priv.Serialize()
	pub := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	nsec, err := EncodeNsec(hex.EncodeToString(secret))
	if err != nil {
		return nil, err
	}
	npub, err := EncodeNpub(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		SecretHex: hex.EncodeToString(secret),
		Nsec:      nsec,
		PubkeyHex: pub,
		Npub:      npub,
	}, nil
}

// NormalizePubkey accepts a 64-char hex pubkey or an npub and returns the
// lowercase hex form.
func NormalizePubkey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), hrpPublic+"1") {
		data, err := decodeBech32(hrpPublic, s)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(data), nil
	}
	if !IsHexPubkey(s) {
		return "", fmt.Errorf("%w: pubkey must be 64 hex characters or npub", ErrInvalidKey)
	}
	return strings.ToLower(s), nil
}

// IsHexPubkey reports whether s is a 64-character hex string.
func IsHexPubkey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// EncodeNpub encodes a hex pubkey as npub.
func EncodeNpub(pubHex string) (string, error) {
	return encodeBech32(hrpPublic, pubHex)
}

// EncodeNsec encodes a hex secret as nsec.
func EncodeNsec(secretHex string) (string, error) {
	return encodeBech32(hrpSecret, secretHex)
}

// DecodeNsec returns the hex secret inside an nsec.
func DecodeNsec(nsec string) (string, error) {
	data, err := decodeBech32(hrpSecret, nsec)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

func parseSecret(secret string) (*btcec.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	var raw []byte
	if strings.HasPrefix(strings.ToLower(secret), hrpSecret+"1") {
		data, err := decodeBech32(hrpSecret, secret)
		if err != nil {
			return nil, err
		}
		raw = data
	} else {
		data, err := hex.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: secret must be hex or nsec", ErrInvalidKey)
		}
		raw = data
	}
	if len(raw) != btcec.PrivKeyBytesLen || isZero(raw) {
		return nil, fmt.Errorf("%w: secret must be 32 bytes", ErrInvalidKey)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

func encodeBech32(hrp, hexData string) (string, error) {
	raw, err := hex.DecodeString(hexData)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: expected 32 hex-encoded bytes", ErrInvalidKey)
	}
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.Encode(hrp, conv)
}

func decodeBech32(wantHRP, s string) ([]byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("%w: expected %s prefix, got %s", ErrInvalidKey, wantHRP, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(raw))
	}
	return raw, nil
}
