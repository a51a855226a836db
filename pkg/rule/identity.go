package rule

import "fmt"

// VnodeKey identifies a specific on-disk file instance: device id plus inode
// number. It is distinct from file content; overwriting a file in place
// produces a new vnode key.
type VnodeKey struct {
	Device uint64
	Inode  uint64
}

// String renders the key in "device/inode" form for logs and the control API.
func (k VnodeKey) String() string {
	return fmt.Sprintf("%d/%d", k.Device, k.Inode)
}

// BinaryIdentity carries the identity facts extracted for one execution
// request. It is immutable once computed; if the file's vnode is regenerated
// the identity is recomputed from scratch.
//
// Signature extraction is an external collaborator: the kernel event source
// hands the engine a fully populated identity.
type BinaryIdentity struct {
	// VnodeKey identifies the on-disk file instance.
	VnodeKey VnodeKey

	// Path is the executable path as seen at execution time. Informational
	// except for the critical-system-binary check.
	Path string

	// ContentHash is the lowercase hex SHA-256 of the file bytes.
	ContentHash string

	// CodeDirectoryHash is the lowercase hex hash of the signed code
	// layout, narrower than the full content hash. Empty for unsigned
	// binaries.
	CodeDirectoryHash string

	// SigningID is the developer-scoped signing identifier. Empty for
	// unsigned binaries.
	SigningID string

	// TeamID is the developer/organization identifier from the signing
	// certificate. Empty for platform and unsigned binaries.
	TeamID string

	// CertificateHash is the lowercase hex SHA-256 of the leaf signing
	// certificate.
	CertificateHash string

	// IsPlatformBinary reports whether the binary is signed by the OS
	// vendor.
	IsPlatformBinary bool

	// IsCriticalSystemBinary reports whether the path is on the fixed
	// allow-list of binaries the OS cannot function without. Such binaries
	// are always allowed, before any rule is consulted.
	IsCriticalSystemBinary bool
}

// IdentifierFor returns the identity field a rule of the given type matches
// against, and whether the identity has a usable value for that type.
// TypeCEL matches on the signing identifier like TypeSigningID.
func (b *BinaryIdentity) IdentifierFor(t Type) (string, bool) {
	switch t {
	case TypeCDHash:
		return b.CodeDirectoryHash, b.CodeDirectoryHash != ""
	case TypeBinary:
		return b.ContentHash, b.ContentHash != ""
	case TypeSigningID, TypeCEL:
		id := b.FullSigningID()
		return id, id != ""
	case TypeCertificate:
		return b.CertificateHash, b.CertificateHash != ""
	case TypeTeamID:
		return b.TeamID, b.TeamID != ""
	}
	return "", false
}

// FullSigningID returns the "<teamID-or-'platform'>:<signingID>" form used as
// the signing-ID rule identifier, or "" when the binary has no signing ID.
func (b *BinaryIdentity) FullSigningID() string {
	if b.SigningID == "" {
		return ""
	}
	prefix := b.TeamID
	if b.IsPlatformBinary {
		prefix = "platform"
	}
	if prefix == "" {
		return ""
	}
	return prefix + ":" + b.SigningID
}

// criticalSystemPaths is the fixed allow-list of binaries the operating
// system depends on. Execution of these is allowed unconditionally, before
// cache or rules, so that a misconfigured or malicious rule set cannot brick
// the machine.
var criticalSystemPaths = map[string]bool{
	"/usr/libexec/trustd":       true,
	"/usr/libexec/xpcproxy":     true,
	"/usr/lib/dyld":             true,
	"/usr/sbin/securityd":       true,
	"/sbin/launchd":             true,
	"/usr/bin/login":            true,
	"/usr/libexec/logd":         true,
	"/usr/libexec/amfid":        true,
	"/usr/libexec/watchdogd":    true,
	"/System/Library/CoreServices/WindowServer": true,
}

// IsCriticalSystemPath reports whether path is on the critical-binary
// allow-list.
func IsCriticalSystemPath(path string) bool {
	return criticalSystemPaths[path]
}
