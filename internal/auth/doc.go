// Package auth protects the clinic gateway's operator API.
//
// # Tokens
//
// Operators authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret. A token carries the operator name in "sub" and a role
// in "role":
//
//   - staff: read bookings and availability, create and update bookings,
//     drive test conversations
//   - admin: everything staff can do, plus deleting bookings
//
// Tokens are minted by the CLI:
//
//	clinic-gateway token --subject reception --role staff --expires 720h
//
// # HTTP Middleware
//
// Middleware extracts the bearer token, verifies it and attaches the
// Identity to the request context. RequireRole gates individual routes:
//
//	mux.Handle("DELETE /api/bookings/{id}", auth.RequireRole(auth.RoleAdmin)(h))
//
// Patient-facing channels (the WhatsApp webhook, the Matrix bridge's
// messages) do not use these tokens.
package auth
