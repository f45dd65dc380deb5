// Package credential manages a fixed set of external-service credentials,
// spreading outbound calls across them by lowest cumulative usage and
// blacklisting credentials that fail repeatedly. Blacklists are transient:
// a cooldown computed with exponential backoff and jitter expires on its
// own, making the credential selectable again without an explicit reset.
package credential
