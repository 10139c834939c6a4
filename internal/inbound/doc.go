// Package inbound is the entry point messaging transports call with a
// user's text. It resolves the user's conversation, runs one assistant
// turn, and always returns text: failures become an "Error: ..." reply.
package inbound
