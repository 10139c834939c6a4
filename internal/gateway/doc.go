// Package gateway wires the clinic booking assistant together and serves
// its HTTP surface.
//
// # Overview
//
// A Gateway owns the booking store, the assistant client, the conversation
// registry, the run orchestrator and the WhatsApp webhook. New builds every
// collaborator from configuration; NewWithDeps accepts them ready-made.
//
// # HTTP API
//
// Health endpoints are always open:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Database (and Redis registry) reachability
//
// The WhatsApp webhook authenticates with its verify token and payload
// signature:
//
//   - GET /webhook/whatsapp - Subscription handshake
//   - POST /webhook/whatsapp - Message notifications
//
// Operator endpoints require a bearer JWT when auth.jwt_secret is set.
// Deleting a booking requires the admin role:
//
//   - GET /api/bookings - Bookings ordered by slot
//   - POST /api/bookings - Book a slot under the clinic rules
//   - GET /api/bookings/{id} - One booking
//   - PATCH /api/bookings/{id} - Change status
//   - DELETE /api/bookings/{id} - Cancel, freeing the slot
//   - GET /api/availability?date=&time= - Slot availability
//   - POST /api/conversations - Create an assistant conversation
//   - POST /api/messages - Run one assistant turn
//
// POST /api/messages is also how the Matrix bridge reaches the assistant.
// Bridges send frontend and message_id, and a message id seen before is
// answered with {"duplicate": true} instead of a second run.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// Shutdown stops the HTTP server, waits for in-flight WhatsApp replies and
// closes the store and any Redis connection.
package gateway
