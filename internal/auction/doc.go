// Package auction exposes the BidToEarn smart contract as a fixed catalog of
// named, schema-validated actions for the agent layer. The contract owns all
// auction business rules (bid increments, refunds, reserve prices, fees);
// this package only translates typed parameters into contract calls and
// renders the results. State-changing actions submit exactly one transaction
// per call and wait synchronously for confirmation.
package auction
