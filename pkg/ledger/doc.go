// Package ledger provides type-safe Go definitions and the Redis-backed stores for evidence
// items and promises.
//
// # Overview
//
// Evidence items and promises are two denormalized views of one logical relation: an
// evidence item knows which promises it supports, and a promise knows which evidence
// supports it. Both directions are stored as Redis sets so that "find evidence for a promise"
// and "find promises for an evidence item" are single reads, and so that concurrent linkers
// append to a promise with SADD (set-union) instead of read-modify-write.
//
// # Core Concepts
//
// EvidenceItems are created by ingestion in the pending state and move through the linking
// state machine: pending -> {processed, no_matches, error}. An operator reset is the only way
// back to pending.
//
// Promises carry static commitment text from enrichment plus derived progress fields written
// by the progress aggregator.
//
// ApplyLinks writes both directions of the relation in one MULTI/EXEC. RepairBatch provides
// the conditional writes reconciliation uses to repair drift between the two directions.
//
// # Usage Example
//
//	client, err := ledger.NewClient(&redis.Options{Addr: "localhost:6379"}, "prod")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	change, err := client.ApplyLinks(ctx, evidenceID, []string{"LPC-2021-0042"}, time.Now())
//	if err != nil {
//		log.Fatal(err)
//	}
//	// change.Added lists promises that need rescoring
//
// # Redis Schema
//
// All Redis keys follow the pattern: pledge:{instance_name}:{entity}:{id}
//
// Evidence: pledge:{instance_name}:evidence:{id} (hash)
// Evidence links: pledge:{instance_name}:evidence:{id}:promises (set)
// Promises: pledge:{instance_name}:promise:{id} (hash)
// Promise links: pledge:{instance_name}:promise:{id}:evidence (set)
// Indexes: evidence_ids, evidence_status:{status}, promise_ids (sets), promise_link_updates (zset)
//
// Pub/Sub channels: pledge:{instance_name}:evidence_events, pledge:{instance_name}:link_events
package ledger
