package ledger

import (
	"strconv"
	"strings"
)

// keySeparator joins key parts. Principals are opaque and may contain any
// printable character, so a control character is used.
const keySeparator = "\x1f"

// Key namespaces
const (
	NamespacePatient     = "patient"
	NamespaceGrant       = "grant"
	NamespaceCertificate = "certificate"
	NamespaceCertOwner   = "certificate-owner"
	NamespaceEmergency   = "emergency"
	NamespaceAudit       = "audit"
	NamespaceAuditHead   = "audit-head"
	NamespaceSequence    = "sequence"
	NamespaceConfig      = "config"
)

// Key builds a namespaced ledger key.
func Key(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + keySeparator + strings.Join(parts, keySeparator)
}

// IDKey builds a namespaced key for a numeric id.
func IDKey(namespace string, id uint64) string {
	return Key(namespace, strconv.FormatUint(id, 10))
}

// SplitKey splits a key into its namespace and parts.
func SplitKey(key string) (string, []string) {
	parts := strings.Split(key, keySeparator)
	return parts[0], parts[1:]
}
