// Package discordrb implements a Discord gateway client: connecting,
// authenticating, caching guild state, and dispatching events to
// registered handlers.
package discordrb
