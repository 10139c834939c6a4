// Package assistant adapts the OpenAI Assistants v2 API (threads, runs and
// tool outputs) to the orchestrator.Backend and registry.Creator
// interfaces using the official openai-go SDK.
//
// API failures are converted to *TransportError carrying the HTTP status
// and the error body so they can be reported to users and logs verbatim.
package assistant
