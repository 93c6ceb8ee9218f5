package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that several
// pledge deployments (for example a staging and a production corpus) can share one Redis
// server without interference.
//
// Key pattern: pledge:{instance_name}:{entity}:{id}
// Channel pattern: pledge:{instance_name}:{event_type}_events

// EvidenceKey returns the Redis key for an evidence item hash.
// Pattern: pledge:{instance_name}:evidence:{evidence_id}
func EvidenceKey(instanceName, evidenceID string) string {
	return fmt.Sprintf("pledge:%s:evidence:%s", instanceName, evidenceID)
}

// EvidencePromisesKey returns the Redis key for the set of promises an evidence item supports.
// Pattern: pledge:{instance_name}:evidence:{evidence_id}:promises
func EvidencePromisesKey(instanceName, evidenceID string) string {
	return fmt.Sprintf("pledge:%s:evidence:%s:promises", instanceName, evidenceID)
}

// PromiseKey returns the Redis key for a promise hash.
// Pattern: pledge:{instance_name}:promise:{promise_id}
func PromiseKey(instanceName, promiseID string) string {
	return fmt.Sprintf("pledge:%s:promise:%s", instanceName, promiseID)
}

// PromiseEvidenceKey returns the Redis key for the set of evidence linked to a promise.
// Pattern: pledge:{instance_name}:promise:{promise_id}:evidence
func PromiseEvidenceKey(instanceName, promiseID string) string {
	return fmt.Sprintf("pledge:%s:promise:%s:evidence", instanceName, promiseID)
}

// EvidenceIndexKey returns the Redis key for the set of all evidence IDs.
// Pattern: pledge:{instance_name}:evidence_ids
func EvidenceIndexKey(instanceName string) string {
	return fmt.Sprintf("pledge:%s:evidence_ids", instanceName)
}

// EvidenceStatusKey returns the Redis key for the status index of evidence items.
// Pattern: pledge:{instance_name}:evidence_status:{status}
func EvidenceStatusKey(instanceName string, status LinkingStatus) string {
	return fmt.Sprintf("pledge:%s:evidence_status:%s", instanceName, status)
}

// PromiseIndexKey returns the Redis key for the set of all promise IDs.
// Pattern: pledge:{instance_name}:promise_ids
func PromiseIndexKey(instanceName string) string {
	return fmt.Sprintf("pledge:%s:promise_ids", instanceName)
}

// PromiseLinkUpdatesKey returns the Redis key for the ZSET tracking when each promise's
// evidence links last changed (score = unix milliseconds).
// Pattern: pledge:{instance_name}:promise_link_updates
func PromiseLinkUpdatesKey(instanceName string) string {
	return fmt.Sprintf("pledge:%s:promise_link_updates", instanceName)
}

// EvidenceEventsChannel returns the Pub/Sub channel for evidence created or reset to pending.
// Pattern: pledge:{instance_name}:evidence_events
func EvidenceEventsChannel(instanceName string) string {
	return fmt.Sprintf("pledge:%s:evidence_events", instanceName)
}

// LinkEventsChannel returns the Pub/Sub channel for applied link changes.
// Pattern: pledge:{instance_name}:link_events
func LinkEventsChannel(instanceName string) string {
	return fmt.Sprintf("pledge:%s:link_events", instanceName)
}
