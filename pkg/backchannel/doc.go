// Package backchannel delivers OIDC back-channel logout tokens to
// registered clients. Delivery is best-effort: one signed logout_token
// POST per client with a bounded timeout and no retry queue.
package backchannel
