// Package incident provides the business boundary for the incident ledger.
// It defines the canonical Incident model and its validation contract, the
// Service (lifecycle state machine and event emission), the Store interface
// (persistence) and the error taxonomy shared by the HTTP layer.
package incident
