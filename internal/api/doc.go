// Package api exposes the external surface of the agent service: REST
// endpoints for chat and IPFS uploads, a WebSocket channel for interactive
// sessions, and health/metrics endpoints for operators.
package api
