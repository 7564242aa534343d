// Package chain houses blockchain connectivity utilities for the BidToEarn
// agent: the ledger client interface, transaction request types, and the
// YAML-based multi-chain endpoint configuration. Concrete EVM clients live in
// the ethereum subpackage and are instantiated through the provider registry.
package chain
