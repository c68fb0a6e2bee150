package types

import "errors"

// Sentinel errors for gears operations.
var (
	// ErrMalformedPayload indicates a webhook body that is not valid JSON.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNotARule indicates a story whose title is not shaped when(...).
	ErrNotARule = errors.New("story is not a rule")

	// ErrRegistryFrozen indicates a capability registration after compilation began.
	ErrRegistryFrozen = errors.New("capability registry is frozen")

	// ErrDuplicateCapability indicates a capability name registered twice.
	ErrDuplicateCapability = errors.New("capability already registered")

	// ErrEmptyCapabilityName indicates a registration without a name.
	ErrEmptyCapabilityName = errors.New("capability name is empty")

	// ErrUnknownCapability indicates a lookup of an unregistered capability.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrNotCallable indicates Call on a capability that is not a function.
	ErrNotCallable = errors.New("capability is not callable")

	// ErrRuleTimeout indicates a predicate or action exceeded its time budget.
	ErrRuleTimeout = errors.New("rule evaluation timed out")

	// ErrRulePanic indicates rule code panicked during evaluation.
	ErrRulePanic = errors.New("rule panicked")

	// ErrSignatureMissing indicates a webhook delivery without a signature header.
	ErrSignatureMissing = errors.New("signature missing")

	// ErrSignatureMismatch indicates a webhook signature that does not match the body.
	ErrSignatureMismatch = errors.New("signature mismatch")
)
