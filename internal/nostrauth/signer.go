package nostrauth

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Signer produces a signed copy of an event. Implementations set Pubkey, ID
// and Sig; the input event is not modified.
type Signer interface {
	Pubkey() string
	Sign(ctx context.Context, ev *Event) (*Event, error)
}

// LocalSigner signs with a secret key held in process memory.
type LocalSigner struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// NewLocalSigner builds a signer from a hex or nsec secret.
func NewLocalSigner(secret string) (*LocalSigner, error) {
	priv, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}, nil
}

// Pubkey returns the signer's hex x-only public key.
func (s *LocalSigner) Pubkey() string { return s.pubHex }

// Sign implements Signer.
func (s *LocalSigner) Sign(_ context.Context, ev *Event) (*Event, error) {
	out := *ev
	out.Pubkey = s.pubHex
	if out.CreatedAt == 0 {
		out.CreatedAt = time.Now().Unix()
	}
	hash, err := out.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(s.priv, hash)
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	out.ID = hex.EncodeToString(hash)
	out.Sig = hex.EncodeToString(sig.Serialize())
	return &out, nil
}

// RemoteSigner delegates signing to an HTTP signing service that holds the
// key. The unsigned event is POSTed as JSON and the signed event is read back.
type RemoteSigner struct {
	URL    string
	Token  string
	pubHex string
	client *http.Client
}

// NewRemoteSigner returns a RemoteSigner for a service that signs as pubkey.
func NewRemoteSigner(url, token, pubkey string) *RemoteSigner {
	return &RemoteSigner{
		URL:    url,
		Token:  token,
		pubHex: pubkey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Pubkey returns the pubkey the remote service is expected to sign as.
func (s *RemoteSigner) Pubkey() string { return s.pubHex }

// Sign implements Signer. The returned event is checked locally before it is
// handed back so a misbehaving service cannot pass off a bad signature.
func (s *RemoteSigner) Sign(ctx context.Context, ev *Event) (*Event, error) {
	draft := *ev
	draft.Pubkey = s.pubHex
	body, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote signer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read remote signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	signed, err := ParseEvent(raw)
	if err != nil || signed == nil {
		return nil, fmt.Errorf("remote signer returned an invalid event")
	}
	if s.pubHex != "" && signed.Pubkey != s.pubHex {
		return nil, fmt.Errorf("remote signer signed as %s, want %s", signed.Pubkey, s.pubHex)
	}
	if !verifySignature(signed) {
		return nil, fmt.Errorf("remote signer returned a bad signature")
	}
	return signed, nil
}
