package model

import "time"

// Permission tiers for API keys.
const (
	PermissionRead      = "read"
	PermissionReadWrite = "read_write"
)

// ValidPermission reports whether p is a known permission tier.
func ValidPermission(p string) bool {
	return p == PermissionRead || p == PermissionReadWrite
}

// APIKey is one issued bearer credential owned by a Nostr pubkey. The raw key
// is never stored; only a SHA-256 hash and a short display prefix persist.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	KeyPrefix   string     `json:"keyPrefix" db:"key_prefix"` // first 10 chars, display only
	KeyHash     string     `json:"-" db:"key_hash"`           // SHA-256 hash, never expose
	Name        string     `json:"name" db:"name"`
	Pubkey      string     `json:"pubkey" db:"pubkey"`
	Permissions string     `json:"permissions" db:"permissions"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	LastUsedAt  *time.Time `json:"lastUsedAt" db:"last_used_at"`
	IsActive    bool       `json:"isActive" db:"is_active"`
}

// CanWrite reports whether the key may invoke state-mutating tools.
func (k *APIKey) CanWrite() bool {
	return k != nil && k.IsActive && k.Permissions == PermissionReadWrite
}
