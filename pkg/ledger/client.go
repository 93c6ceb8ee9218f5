package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint used when iterating large sets.
const scanCount = 500

// Client provides instance-scoped Redis operations for the evidence and promise stores.
// All keys and channels are automatically namespaced with the instance name.
// The client is safe for concurrent use and is meant to be opened once per process and
// passed explicitly to every component that needs the stores.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new ledger client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: pledge instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// CreateEvidence stores a newly ingested evidence item in the pending state and publishes an
// evidence event. Creating an item whose ID already exists is a no-op, so re-ingesting the
// same source item never resets its linking state.
func (c *Client) CreateEvidence(ctx context.Context, e *EvidenceItem) error {
	if e.LinkingStatus == "" {
		e.LinkingStatus = LinkingStatusPending
	}
	if e.LinkingStatus != LinkingStatusPending {
		return fmt.Errorf("invalid evidence: new evidence must be %s, got %s", LinkingStatusPending, e.LinkingStatus)
	}
	if e.IngestedAt.IsZero() {
		e.IngestedAt = time.Now().UTC()
	}
	e.PromiseIDs = []string{}

	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid evidence: %w", err)
	}

	hash, err := EvidenceToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize evidence: %w", err)
	}

	key := EvidenceKey(c.instanceName, e.ID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check evidence existence: %w", err)
	}
	if exists > 0 {
		return nil
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		pipe.SAdd(ctx, EvidenceIndexKey(c.instanceName), e.ID)
		pipe.SAdd(ctx, EvidenceStatusKey(c.instanceName, LinkingStatusPending), e.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write evidence to Redis: %w", err)
	}

	return c.publishEvidenceEvent(ctx, EvidenceEvent{EvidenceID: e.ID, Status: LinkingStatusPending})
}

// GetEvidence retrieves an evidence item and its linked promise IDs.
// Returns (nil, redis.Nil) if the item doesn't exist. Use IsNotFound() to check.
func (c *Client) GetEvidence(ctx context.Context, evidenceID string) (*EvidenceItem, error) {
	items, err := c.GetEvidenceBatch(ctx, []string{evidenceID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, redis.Nil
	}
	return items[0], nil
}

// GetEvidenceBatch retrieves several evidence items in one round trip.
// Missing items are skipped; the result preserves the order of ids.
func (c *Client) GetEvidenceBatch(ctx context.Context, ids []string) ([]*EvidenceItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	hashCmds := make([]*redis.MapStringStringCmd, len(ids))
	setCmds := make([]*redis.StringSliceCmd, len(ids))

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			hashCmds[i] = pipe.HGetAll(ctx, EvidenceKey(c.instanceName, id))
			setCmds[i] = pipe.SMembers(ctx, EvidencePromisesKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence from Redis: %w", err)
	}

	items := make([]*EvidenceItem, 0, len(ids))
	for i, id := range ids {
		hashData := hashCmds[i].Val()
		if len(hashData) == 0 {
			continue
		}

		item, err := HashToEvidence(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize evidence %s: %w", id, err)
		}
		item.PromiseIDs = sortedMembers(setCmds[i].Val())
		items = append(items, item)
	}

	return items, nil
}

// EvidenceExists checks if an evidence item exists without fetching it.
func (c *Client) EvidenceExists(ctx context.Context, evidenceID string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, EvidenceKey(c.instanceName, evidenceID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check evidence existence: %w", err)
	}
	return exists > 0, nil
}

// PromiseExists checks if a promise hash exists, whether or not it is in the promise index.
func (c *Client) PromiseExists(ctx context.Context, promiseID string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, PromiseKey(c.instanceName, promiseID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check promise existence: %w", err)
	}
	return exists > 0, nil
}

// EvidenceIDs returns every stored evidence ID, sorted.
// Iterates the evidence index with SSCAN so large stores never block the server.
func (c *Client) EvidenceIDs(ctx context.Context) ([]string, error) {
	return c.scanSet(ctx, EvidenceIndexKey(c.instanceName))
}

// EvidenceIDsByStatus returns the IDs of evidence items in the given linking status, sorted.
func (c *Client) EvidenceIDsByStatus(ctx context.Context, status LinkingStatus) ([]string, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	return c.scanSet(ctx, EvidenceStatusKey(c.instanceName, status))
}

// EvidencePromiseIDs returns the promise IDs an evidence item links to, sorted.
func (c *Client) EvidencePromiseIDs(ctx context.Context, evidenceID string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, EvidencePromisesKey(c.instanceName, evidenceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence links: %w", err)
	}
	return sortedMembers(members), nil
}

// PutPromise writes the static fields of a promise (enrichment collaborator entry point).
// Linked evidence and progress fields already stored for the promise are left untouched.
func (c *Client) PutPromise(ctx context.Context, p *Promise) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid promise: %w", err)
	}

	// Progress fields are only present in the hash when the caller supplies a scored promise
	hash := PromiseToHash(p)

	var cleared []string
	if p.Rank == nil {
		cleared = append(cleared, "rank")
	}
	if p.Direction == nil {
		cleared = append(cleared, "direction")
	}
	if p.ParliamentSession == nil {
		cleared = append(cleared, "parliament_session")
	}

	key := PromiseKey(c.instanceName, p.ID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		if len(cleared) > 0 {
			pipe.HDel(ctx, key, cleared...)
		}
		pipe.SAdd(ctx, PromiseIndexKey(c.instanceName), p.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write promise to Redis: %w", err)
	}

	return nil
}

// GetPromise retrieves a promise and its linked evidence IDs.
// Returns (nil, redis.Nil) if the promise doesn't exist.
func (c *Client) GetPromise(ctx context.Context, promiseID string) (*Promise, error) {
	promises, err := c.GetPromises(ctx, []string{promiseID})
	if err != nil {
		return nil, err
	}
	if len(promises) == 0 {
		return nil, redis.Nil
	}
	return promises[0], nil
}

// GetPromises retrieves several promises in one round trip.
// Missing promises are skipped; the result preserves the order of ids.
func (c *Client) GetPromises(ctx context.Context, ids []string) ([]*Promise, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	hashCmds := make([]*redis.MapStringStringCmd, len(ids))
	setCmds := make([]*redis.StringSliceCmd, len(ids))

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			hashCmds[i] = pipe.HGetAll(ctx, PromiseKey(c.instanceName, id))
			setCmds[i] = pipe.SMembers(ctx, PromiseEvidenceKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read promises from Redis: %w", err)
	}

	promises := make([]*Promise, 0, len(ids))
	for i, id := range ids {
		hashData := hashCmds[i].Val()
		if len(hashData) == 0 {
			continue
		}

		promise, err := HashToPromise(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize promise %s: %w", id, err)
		}
		promise.LinkedEvidenceIDs = sortedMembers(setCmds[i].Val())
		promises = append(promises, promise)
	}

	return promises, nil
}

// PromiseIDs returns every stored promise ID, sorted.
func (c *Client) PromiseIDs(ctx context.Context) ([]string, error) {
	return c.scanSet(ctx, PromiseIndexKey(c.instanceName))
}

// PromiseEvidenceIDs returns the evidence IDs linked to a promise, sorted.
func (c *Client) PromiseEvidenceIDs(ctx context.Context, promiseID string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, PromiseEvidenceKey(c.instanceName, promiseID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read promise links: %w", err)
	}
	return sortedMembers(members), nil
}

// PromisesLinkedSince returns the IDs of promises whose evidence links changed at or after
// since, oldest change first.
func (c *Client) PromisesLinkedSince(ctx context.Context, since time.Time) ([]string, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, PromiseLinkUpdatesKey(c.instanceName), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read promise link updates: %w", err)
	}
	return ids, nil
}

// UpdateProgress writes derived progress fields to an existing promise.
// Returns redis.Nil if the promise doesn't exist; a missing promise is never recreated.
func (c *Client) UpdateProgress(ctx context.Context, promiseID string, progress Progress, scoredAt time.Time) error {
	if err := progress.Status.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}

	key := PromiseKey(c.instanceName, promiseID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check promise existence: %w", err)
	}
	if exists == 0 {
		return redis.Nil
	}

	scored := scoredAt.UTC()
	hash := ProgressToHash(progress, &scored)

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		if progress.LatestEvidenceAt == nil {
			pipe.HDel(ctx, key, "latest_evidence_at_ms")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update promise progress: %w", err)
	}

	return nil
}

// ScoreFunc computes progress from a promise's current linked evidence IDs.
type ScoreFunc func(ctx context.Context, linkedEvidenceIDs []string) (Progress, error)

// RescorePromise reads a promise's linked evidence set, computes progress with score and
// writes it. The evidence set is WATCHed, so if a concurrent ApplyLinks changes it before the
// write commits the whole read-score-write is retried and the stored progress always reflects
// the latest set. Returns redis.Nil if the promise doesn't exist.
func (c *Client) RescorePromise(ctx context.Context, promiseID string, score ScoreFunc, scoredAt time.Time) (Progress, error) {
	key := PromiseKey(c.instanceName, promiseID)
	linksKey := PromiseEvidenceKey(c.instanceName, promiseID)
	scored := scoredAt.UTC()

	var result Progress

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return redis.Nil
		}

		members, err := tx.SMembers(ctx, linksKey).Result()
		if err != nil {
			return err
		}

		progress, err := score(ctx, sortedMembers(members))
		if err != nil {
			return fmt.Errorf("failed to score promise %s: %w", promiseID, err)
		}
		if err := progress.Status.Validate(); err != nil {
			return fmt.Errorf("invalid progress: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, ProgressToHash(progress, &scored))
			if progress.LatestEvidenceAt == nil {
				pipe.HDel(ctx, key, "latest_evidence_at_ms")
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = progress
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.rdb.Watch(ctx, txf, linksKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if IsNotFound(err) {
			return Progress{}, redis.Nil
		}
		return Progress{}, fmt.Errorf("failed to rescore promise %s: %w", promiseID, err)
	}

	return Progress{}, fmt.Errorf("failed to rescore promise %s: transaction retries exhausted", promiseID)
}

// EvidenceIDsWithPrefix returns the evidence IDs starting with prefix, sorted.
// The prefix must not contain glob metacharacters.
func (c *Client) EvidenceIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	if strings.ContainsAny(prefix, "*?[]\\") {
		return nil, fmt.Errorf("invalid evidence ID prefix: %q", prefix)
	}
	return c.scanSetMatch(ctx, EvidenceIndexKey(c.instanceName), prefix+"*")
}

// scanSet reads all members of a set with SSCAN and returns them sorted.
func (c *Client) scanSet(ctx context.Context, key string) ([]string, error) {
	return c.scanSetMatch(ctx, key, "")
}

func (c *Client) scanSetMatch(ctx context.Context, key, match string) ([]string, error) {
	var members []string

	iter := c.rdb.SScan(ctx, key, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		members = append(members, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", key, err)
	}

	return sortedMembers(members), nil
}

// sortedMembers de-duplicates and sorts set members for deterministic output.
func sortedMembers(members []string) []string {
	if len(members) == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// EvidenceEvent announces that an evidence item entered the pending state, either freshly
// ingested or reset by an operator.
type EvidenceEvent struct {
	EvidenceID string        `json:"evidence_id"`
	Status     LinkingStatus `json:"status"`
}

// LinkEvent announces a committed link change for one evidence item.
type LinkEvent struct {
	EvidenceID string        `json:"evidence_id"`
	Status     LinkingStatus `json:"status"`
	Added      []string      `json:"added"`
	Removed    []string      `json:"removed"`
}

func (c *Client) publishEvidenceEvent(ctx context.Context, event EvidenceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence event: %w", err)
	}

	if err := c.rdb.Publish(ctx, EvidenceEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish evidence event: %w", err)
	}
	return nil
}

func (c *Client) publishLinkEvent(ctx context.Context, event LinkEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal link event: %w", err)
	}

	if err := c.rdb.Publish(ctx, LinkEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish link event: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to evidence events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan EvidenceEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of evidence events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan EvidenceEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - malformed messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvidenceEvents subscribes to evidence events for this instance.
// Delivery is at-most-once (Redis Pub/Sub); batch runs pick up anything missed.
func (c *Client) SubscribeEvidenceEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EvidenceEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published after we return is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to evidence events: %w", err)
	}

	eventsChan := make(chan EvidenceEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event EvidenceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal evidence event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
