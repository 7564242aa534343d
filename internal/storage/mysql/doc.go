// Package mysql provides repositories and data access helpers backed by MySQL.
// It persists chat transcripts so that agent conversations survive restarts
// and can be audited after the fact.
package mysql
