package authztest

import (
	"crypto/sha256"
	"encoding/hex"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// HashOf returns a deterministic lowercase hex SHA-256 derived from seed,
// usable wherever a content or certificate hash is expected.
func HashOf(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// CDHashOf returns a deterministic 40-hex-digit code directory hash derived
// from seed.
func CDHashOf(seed string) string {
	return HashOf(seed)[:40]
}

// Identity returns a signed third-party binary identity with all identifier
// fields populated deterministically from the path.
func Identity(device, inode uint64, path string) rule.BinaryIdentity {
	return rule.BinaryIdentity{
		VnodeKey:          rule.VnodeKey{Device: device, Inode: inode},
		Path:              path,
		ContentHash:       HashOf(path),
		CodeDirectoryHash: CDHashOf(path),
		SigningID:         "com.example.app",
		TeamID:            "EQHXZ8M8AV",
		CertificateHash:   HashOf("cert:" + path),
	}
}

// UnsignedIdentity returns an identity with only the content hash set, as
// extraction produces for an unsigned binary.
func UnsignedIdentity(device, inode uint64, path string) rule.BinaryIdentity {
	return rule.BinaryIdentity{
		VnodeKey:    rule.VnodeKey{Device: device, Inode: inode},
		Path:        path,
		ContentHash: HashOf(path),
	}
}

// PlatformIdentity returns an OS-vendor-signed binary identity.
func PlatformIdentity(device, inode uint64, path string) rule.BinaryIdentity {
	id := Identity(device, inode, path)
	id.TeamID = ""
	id.SigningID = "com.platform.core"
	id.IsPlatformBinary = true
	return id
}

// CriticalIdentity returns a critical system binary identity.
func CriticalIdentity(device, inode uint64, path string) rule.BinaryIdentity {
	id := PlatformIdentity(device, inode, path)
	id.IsCriticalSystemBinary = true
	return id
}

// AllowRule builds an allow rule of the given type and identifier.
func AllowRule(t rule.Type, identifier string) *rule.Rule {
	return &rule.Rule{Identifier: identifier, Type: t, State: rule.StateAllow}
}

// BlockRule builds a block rule of the given type and identifier.
func BlockRule(t rule.Type, identifier string) *rule.Rule {
	return &rule.Rule{Identifier: identifier, Type: t, State: rule.StateBlock}
}
