// Package agent contains the core orchestrator responsible for translating
// natural-language intents into on-chain auction operations. It runs the
// model's tool-calling loop, executes requested actions and maintains the
// conversational memory of each session.
package agent
