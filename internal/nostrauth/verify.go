package nostrauth

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// DefaultWindow bounds |now - created_at| for an auth event to be accepted.
const DefaultWindow = 120 * time.Second

// Stable rejection messages surfaced to API callers.
const (
	MsgMissingEvent     = "Missing signed auth event"
	MsgInvalidKind      = "Invalid auth event kind"
	MsgInvalidSignature = "Invalid event signature"
	MsgExpired          = "Auth event has expired"
	MsgPubkeyMismatch   = "Pubkey mismatch"
	MsgReplayed         = "Auth event already used"
)

// Result is the outcome of verifying an auth event.
type Result struct {
	Valid  bool   `json:"valid"`
	Pubkey string `json:"pubkey,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Verifier validates signed auth events. The zero value is usable and
// applies DefaultWindow against the wall clock without replay tracking.
type Verifier struct {
	Window time.Duration
	Now    func() time.Time
	// Replay, when set, rejects an event id seen earlier in its window.
	Replay *ReplayCache
}

// NewVerifier returns a Verifier with the given window. A zero window means
// DefaultWindow.
func NewVerifier(window time.Duration, replay *ReplayCache) *Verifier {
	return &Verifier{Window: window, Replay: replay}
}

// Verify checks that ev is a well-formed, correctly signed, fresh auth event.
// When expectedPubkey is non-empty the signer must match it.
func (v *Verifier) Verify(ev *Event, expectedPubkey string) Result {
	if ev == nil || len(ev.Pubkey) != 64 || len(ev.Sig) != 128 || len(ev.ID) != 64 {
		return reject(MsgMissingEvent)
	}
	if ev.Kind != AuthEventKind {
		return reject(MsgInvalidKind)
	}
	if !verifySignature(ev) {
		return reject(MsgInvalidSignature)
	}

	now := v.now()
	age := now.Sub(time.Unix(ev.CreatedAt, 0))
	if age < 0 {
		age = -age
	}
	if age > v.window() {
		return reject(MsgExpired)
	}

	if expectedPubkey != "" && expectedPubkey != ev.Pubkey {
		return reject(MsgPubkeyMismatch)
	}

	if v.Replay != nil && !v.Replay.Remember(ev.ID, time.Unix(ev.CreatedAt, 0).Add(v.window())) {
		return reject(MsgReplayed)
	}

	return Result{Valid: true, Pubkey: ev.Pubkey}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// EffectiveWindow is the freshness window Verify applies.
func (v *Verifier) EffectiveWindow() time.Duration { return v.window() }

func (v *Verifier) window() time.Duration {
	if v.Window > 0 {
		return v.Window
	}
	return DefaultWindow
}

func reject(msg string) Result {
	return Result{Valid: false, Error: msg}
}

// verifySignature recomputes the event id and checks the BIP-340 signature
// over it against the event's x-only pubkey.
func verifySignature(ev *Event) bool {
	hash, err := ev.Hash()
	if err != nil {
		return false
	}
	claimed, err := hex.DecodeString(ev.ID)
	if err != nil || !bytes.Equal(claimed, hash) {
		return false
	}

	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil || len(sigBytes) != schnorr.SignatureSize || isZero(sigBytes) {
		return false
	}
	pubBytes, err := hex.DecodeString(ev.Pubkey)
	if err != nil || len(pubBytes) != schnorr.PubKeyBytesLen || isZero(pubBytes) {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pub)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
