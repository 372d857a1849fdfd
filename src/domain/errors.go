package domain

import "errors"

// Error kinds from spec.md §7. Decrypt/interpretation failures are never
// returned as errors; they're dropped and counted (see noteprocessor.Stats).
var (
	// ErrTransientNode marks an RPC timeout or 5xx from the node. Callers
	// should treat it as "no progress this tick" and retry later.
	ErrTransientNode = errors.New("transient node error")

	// ErrMalformedBatch marks disagreeing block/log counts after
	// truncation, or an empty fetch during catch-up. Treated as transient.
	ErrMalformedBatch = errors.New("malformed batch")

	// ErrUnregisteredAccount is raised by isAccountStateSynchronized for a
	// public key with no processor and no DB registration at all.
	ErrUnregisteredAccount = errors.New("unregistered account")

	// ErrRecipientOnlyAccount is raised by isAccountStateSynchronized for a
	// public key known only as a note recipient, with no NoteProcessor.
	ErrRecipientOnlyAccount = errors.New("account is recipient-only, has no note processor")

	// ErrInvariantViolation marks a ProgrammerInvariant per spec.md §7
	// (e.g. limit < 1 in catch-up). Never retried.
	ErrInvariantViolation = errors.New("internal invariant violation")
)
