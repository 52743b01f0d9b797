// Package signal maps detector findings (monitoring alerts, unmanaged cloud
// resources, audit events, committed secrets, naming violations) to incident
// payloads. Every mapper is a pure function; deduplication and delivery to
// the ledger happen in the caller.
package signal
