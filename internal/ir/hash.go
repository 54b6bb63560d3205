package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainInvocation  = "copf/invocation/v1"
	DomainCompletion  = "copf/completion/v1"
	DomainBinding     = "copf/binding/v1"
	DomainCacheSource = "copf/cache-source/v1"
)

// HashWithDomain computes a SHA-256 hash with domain separation:
// SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity. Shared by the emitter (content hashes)
// and cache (source hashes) so every content-addressed id in the system
// uses the same construction.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// InvocationID computes the content-addressed id for an invocation. Stable
// across restarts and replays given the same inputs.
//
// SecurityContext-style audit metadata, were any carried on the struct,
// would be deliberately excluded from this hash: the id represents "what
// happened", not "who did it", so the same logical invocation replays to
// the same id under a different auth context.
func InvocationID(flow, conceptAction string, input Record, seq int64) (string, error) {
	obj := Record{
		"flow":    Str(flow),
		"action":  Str(conceptAction),
		"input":   input,
		"seq":     Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("InvocationID: failed to marshal: %w", err)
	}

	return HashWithDomain(DomainInvocation, canonical), nil
}

// CompletionID computes the content-addressed id for a completion. Links
// to the invocation it completes via invocationID.
func CompletionID(invocationID, variant string, output Record, seq int64) (string, error) {
	obj := Record{
		"invocation_id": Str(invocationID),
		"variant":       Str(variant),
		"output":        output,
		"seq":           Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CompletionID: failed to marshal: %w", err)
	}

	return HashWithDomain(DomainCompletion, canonical), nil
}

// BindingHash computes the hash used for sync-firing idempotency:
// UNIQUE(completion_id, sync_id, binding_hash).
func BindingHash(bindings Record) (string, error) {
	canonical, err := MarshalCanonical(bindings)
	if err != nil {
		return "", fmt.Errorf("BindingHash: failed to marshal: %w", err)
	}

	return HashWithDomain(DomainBinding, canonical), nil
}

// MustInvocationID is like InvocationID but panics on error. Tests only.
func MustInvocationID(flow, conceptAction string, input Record, seq int64) string {
	id, err := InvocationID(flow, conceptAction, input, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustCompletionID is like CompletionID but panics on error. Tests only.
func MustCompletionID(invocationID, variant string, output Record, seq int64) string {
	id, err := CompletionID(invocationID, variant, output, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustBindingHash is like BindingHash but panics on error. Tests only.
func MustBindingHash(bindings Record) string {
	hash, err := BindingHash(bindings)
	if err != nil {
		panic(err)
	}
	return hash
}
