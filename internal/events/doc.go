// Package events provides EventPublisher implementations.
//
// The NATS publisher emits JSON payloads on configurable subjects for
// downstream routing components; the nop publisher is the default when no
// notification channel is wired in. Publishing is always best-effort: the
// caller logs failures and never fails the primary operation.
package events
