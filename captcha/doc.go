// Package captcha implements the client side of the slider-puzzle
// human-verification protocol.
//
// A Flow drives one host modal through the verification states. It owns a
// Broker that issues challenges (deduplicating rapid repeats and coalescing
// concurrent calls), a Lifecycle that tracks the single live challenge and
// releases superseded ones in the background, and a Verifier that runs the
// local timing gate before submitting the sampled drag to the authoritative
// service. A successful verification yields a Token that the caller hands to
// the sensitive action it gates.
//
// The components can also be used individually; they communicate with the
// service through the Service interface, for which HTTPService is the
// production implementation.
package captcha
