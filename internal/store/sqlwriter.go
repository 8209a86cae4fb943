package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/profile"
)

// poolRow and filterRow are stored one per key, so a listing returns them
// in no particular order.
type poolRow struct {
	ConfigID string `json:"config_id"`
	PoolRecord
}

type filterRow struct {
	ConfigID string `json:"config_id"`
	Pool     string `json:"pool"`
	FilterRecord
}

// SQLWriter persists profiles in a SQLiteStore, one bucket per profile.
type SQLWriter struct {
	store *SQLiteStore
	names NamePolicy
	log   *logging.Logger
}

// NewSQLWriter returns a writer and loader backed by s.
func NewSQLWriter(s *SQLiteStore, names NamePolicy, log *logging.Logger) *SQLWriter {
	if log == nil {
		log = logging.Discard()
	}
	return &SQLWriter{store: s, names: names, log: log.WithComponent("store")}
}

// WriteProfile replaces the profile's bucket with its current content.
func (w *SQLWriter) WriteProfile(p *profile.Profile) error {
	rec := NewProfileRecord(p)
	err := w.store.Update(w.names.Bucket(rec.Name), func(b *Batch) error {
		b.Replace()

		meta := ProfileRecord{Name: rec.Name, Consumers: rec.Consumers}
		for _, mr := range rec.Managers {
			for _, pr := range mr.Pools {
				for _, fr := range pr.Filters {
					row := filterRow{ConfigID: mr.ConfigID, Pool: pr.Name, FilterRecord: fr}
					if err := b.PutJSON(w.names.FilterKey(mr.ConfigID, pr.Name, fr.Name), row); err != nil {
						return err
					}
				}
				pr.Filters = nil
				if err := b.PutJSON(w.names.PoolKey(mr.ConfigID, pr.Name), poolRow{ConfigID: mr.ConfigID, PoolRecord: pr}); err != nil {
					return err
				}
			}
			mr.Pools = nil
			meta.Managers = append(meta.Managers, mr)
		}
		return b.PutJSON(profileKey, meta)
	})
	if err != nil {
		return fmt.Errorf("store profile %s: %w", rec.Name, err)
	}
	w.log.Debug("wrote profile", "profile", rec.Name, "version", w.store.CurrentVersion())
	return nil
}

// DeletePool removes the pool's record and its filters.
func (w *SQLWriter) DeletePool(profileName, configID, pool string) error {
	bucket := w.names.Bucket(profileName)
	keys, err := w.store.ListKeys(bucket)
	if err != nil {
		return fmt.Errorf("delete pool %s: %w", pool, err)
	}
	poolKey := w.names.PoolKey(configID, pool)
	filterPrefix := w.names.FilterPrefix(configID, pool)

	return w.store.Update(bucket, func(b *Batch) error {
		for _, k := range keys {
			if k == poolKey || strings.HasPrefix(k, filterPrefix) {
				b.Delete(k)
			}
		}
		return nil
	})
}

// DeleteProfile drops the profile's bucket.
func (w *SQLWriter) DeleteProfile(profileName string) error {
	err := w.store.DeleteBucket(w.names.Bucket(profileName))
	if err != nil && !errors.Is(err, ErrBucketMissing) {
		return fmt.Errorf("delete profile %s: %w", profileName, err)
	}
	return nil
}

// ProfileInfo describes the last stored commit of a profile.
type ProfileInfo struct {
	Bucket    string
	Version   uint64
	UpdatedAt time.Time
}

// Info returns the version and time of the profile's last commit.
func (w *SQLWriter) Info(profileName string) (ProfileInfo, error) {
	bucket := w.names.Bucket(profileName)
	entry, err := w.store.GetWithMeta(bucket, profileKey)
	if err != nil {
		return ProfileInfo{}, fmt.Errorf("profile %s: %w", profileName, err)
	}
	return ProfileInfo{Bucket: bucket, Version: entry.Version, UpdatedAt: entry.UpdatedAt}, nil
}

// History returns the profile's recorded changes after version since.
func (w *SQLWriter) History(profileName string, since uint64) ([]Change, error) {
	changes, err := w.store.GetChangesSince(since, w.names.Bucket(profileName))
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", profileName, err)
	}
	return changes, nil
}

// Watch streams the changes of profile buckets until ctx is done or the
// store closes. Slow readers miss changes.
func (w *SQLWriter) Watch(ctx context.Context) <-chan Change {
	in := w.store.Subscribe(ctx)
	out := make(chan Change, cap(in))
	go func() {
		defer close(out)
		for c := range in {
			if !w.names.IsProfileBucket(c.Bucket) {
				continue
			}
			select {
			case out <- c:
			default:
			}
		}
	}()
	return out
}

// Backup writes a JSON snapshot of the whole store to out.
func (w *SQLWriter) Backup(out io.Writer) (*Snapshot, error) {
	snap, err := w.store.CreateSnapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	w.log.Info("backed up store", "version", snap.Version, "buckets", len(snap.Buckets))
	return snap, nil
}

// Restore replaces the store content with a snapshot written by Backup.
// Profiles already loaded are not refreshed.
func (w *SQLWriter) Restore(in io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(in).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for bucket := range snap.Buckets {
		if !w.names.IsProfileBucket(bucket) {
			return nil, fmt.Errorf("snapshot bucket %q is not a profile", bucket)
		}
	}
	if err := w.store.RestoreSnapshot(&snap); err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	w.log.Info("restored store", "version", snap.Version, "buckets", len(snap.Buckets))
	return &snap, nil
}

// LoadProfiles implements profile.Loader.
func (w *SQLWriter) LoadProfiles(reg *profile.Registry) error {
	buckets, err := w.store.ListBuckets()
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		if !w.names.IsProfileBucket(bucket) {
			continue
		}
		rec, err := w.readBucket(bucket)
		if err != nil {
			return fmt.Errorf("read %s: %w", bucket, err)
		}
		if _, err := rec.Apply(reg); err != nil {
			return err
		}
	}
	return nil
}

// ReadProfile returns the stored record of one profile.
func (w *SQLWriter) ReadProfile(profileName string) (ProfileRecord, error) {
	return w.readBucket(w.names.Bucket(profileName))
}

func (w *SQLWriter) readBucket(bucket string) (ProfileRecord, error) {
	entries, err := w.store.List(bucket)
	if err != nil {
		return ProfileRecord{}, err
	}
	data, ok := entries[profileKey]
	if !ok {
		return ProfileRecord{}, ErrNotFound
	}
	var rec ProfileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ProfileRecord{}, fmt.Errorf("decode %s: %w", profileKey, err)
	}

	manager := func(configID string) *ManagerRecord {
		for i := range rec.Managers {
			if rec.Managers[i].ConfigID == configID {
				return &rec.Managers[i]
			}
		}
		rec.Managers = append(rec.Managers, ManagerRecord{ConfigID: configID})
		return &rec.Managers[len(rec.Managers)-1]
	}

	var filterRows []filterRow
	for key, data := range entries {
		switch {
		case strings.HasPrefix(key, poolPrefix):
			var row poolRow
			if err := json.Unmarshal(data, &row); err != nil {
				return ProfileRecord{}, fmt.Errorf("decode %s: %w", key, err)
			}
			m := manager(row.ConfigID)
			m.Pools = append(m.Pools, row.PoolRecord)
		case strings.HasPrefix(key, filterPrefix):
			var row filterRow
			if err := json.Unmarshal(data, &row); err != nil {
				return ProfileRecord{}, fmt.Errorf("decode %s: %w", key, err)
			}
			filterRows = append(filterRows, row)
		}
	}

	for _, row := range filterRows {
		m := manager(row.ConfigID)
		for i := range m.Pools {
			if strings.EqualFold(m.Pools[i].Name, row.Pool) {
				m.Pools[i].Filters = append(m.Pools[i].Filters, row.FilterRecord)
				break
			}
		}
	}
	return rec, nil
}
