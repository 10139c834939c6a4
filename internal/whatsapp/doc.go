// Package whatsapp connects the WhatsApp Cloud API to the assistant.
//
// Handler serves the webhook: GET answers Meta's verification handshake,
// POST receives message notifications. Text messages are answered
// asynchronously, one at a time per sender, and the reply is sent back
// through Client, which calls the Graph API messages endpoint.
//
// When an app secret is configured, POST bodies must carry a valid
// X-Hub-Signature-256 header.
package whatsapp
