package ucache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/userloc/go-userloc/lookup/model"
)

// snapshotKey is where the serialized cache blob lives in the datastore.
var snapshotKey = datastore.NewKey("/usercache/snapshot")

const snapshotVersion = 1

// snapshotEntry is one persisted cache slot. A nil Info persists a negative
// entry. ExpiresAt is checked at load time only; the in-memory cache itself
// has no wall-clock expiry.
type snapshotEntry struct {
	Key       string          `json:"key"`
	Info      *model.UserInfo `json:"info,omitempty"`
	SavedAt   time.Time       `json:"saved_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type snapshot struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Entries []snapshotEntry `json:"entries"`
}

// SaveSnapshot serializes the cache into ds as a single opaque blob.
// Positive entries are stamped with the snapshot TTL and negative entries
// with the negative TTL, so a restore never resurrects stale data.
func (uc *UserCache) SaveSnapshot(ctx context.Context, ds datastore.Datastore) error {
	now := uc.clock.Now()
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: now,
	}

	uc.mu.Lock()
	uc.local.Each(func(key string, ent cacheEntry) {
		ttl := uc.snapshotTTL
		if ent.info == nil {
			ttl = uc.negativeTTL
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			Key:       key,
			Info:      ent.info,
			SavedAt:   ent.storedAt,
			ExpiresAt: ent.storedAt.Add(ttl),
		})
	})
	uc.mu.Unlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("cannot encode cache snapshot: %w", err)
	}
	if err = ds.Put(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("cannot store cache snapshot: %w", err)
	}
	if err = ds.Sync(ctx, snapshotKey); err != nil {
		return fmt.Errorf("cannot sync cache snapshot: %w", err)
	}
	log.Debugw("Saved cache snapshot", "entries", len(snap.Entries))
	return nil
}

// RestoreSnapshot loads a previously saved blob from ds, dropping entries
// past their expiry. It returns the number of entries restored. A missing
// snapshot is not an error.
func (uc *UserCache) RestoreSnapshot(ctx context.Context, ds datastore.Datastore) (int, error) {
	data, err := ds.Get(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot load cache snapshot: %w", err)
	}

	var snap snapshot
	if err = json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("cannot decode cache snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		log.Infow("Ignoring cache snapshot with unknown version", "version", snap.Version)
		return 0, nil
	}

	now := uc.clock.Now()
	var loaded int
	uc.mu.Lock()
	// Entries were saved oldest-first, so inserting in order rebuilds the
	// recency order.
	for _, ent := range snap.Entries {
		if !ent.ExpiresAt.After(now) {
			continue
		}
		uc.local.Set(ent.Key, cacheEntry{info: ent.Info, storedAt: ent.SavedAt})
		loaded++
	}
	uc.mu.Unlock()

	log.Debugw("Restored cache snapshot", "entries", loaded, "skipped", len(snap.Entries)-loaded)
	return loaded, nil
}
