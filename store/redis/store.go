// Package redis provides a Redis backed EventStore. Each stream is a sorted
// set whose members all have score 0, so Redis orders them by their bytes and
// every member starts with the sort key of its event.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/avast/retry-go/v3"
	"github.com/go-redis/redis/v8"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
	"github.com/opencredo/concourse/log"
	"github.com/opencredo/concourse/store"
)

const (
	separator = "\x00"
	idKeySize = 26
)

var (
	_ concourse.EventStore = (*Store)(nil)
	_ concourse.Catalogue  = (*Store)(nil)
)

type Store struct {
	client  *redis.Client
	codec   concourse.Codec
	prefix  string
	retries uint
	logger  *slog.Logger
}

func New(ctx context.Context, cfg Config, codec concourse.Codec, options ...store.Option) (*Store, error) {
	opts := store.NewOptions(options...)
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, faults.Errorf("unable to connect to redis at %s: %w", cfg.Addr, err)
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	return &Store{
		client:  client,
		codec:   codec,
		prefix:  cfg.Prefix,
		retries: retries,
		logger:  opts.Logger.With("store", "redis"),
	}, nil
}

func (s *Store) Close() error {
	return faults.Wrap(s.client.Close())
}

func (s *Store) Append(ctx context.Context, batch []concourse.Event) error {
	if len(batch) == 0 {
		return nil
	}
	groups, keys, err := store.Partition(batch)
	if err != nil {
		return err
	}

	members := make(map[store.StreamKey][]*redis.Z, len(keys))
	watched := make([]string, len(keys))
	for i, k := range keys {
		watched[i] = s.streamKey(k)
		for _, e := range groups[k] {
			payload, err := s.codec.Encode(e.Data)
			if err != nil {
				return faults.Errorf("unable to encode '%s' for %s: %w", e.Kind(), k, err)
			}
			members[k] = append(members[k], &redis.Z{
				Member: e.Timestamp.SortKey() + separator + e.Name() + separator + string(payload),
			})
		}
	}

	txFn := func(tx *redis.Tx) error {
		if err := s.checkDuplicates(ctx, tx, keys, groups); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys {
				pipe.ZAdd(ctx, s.streamKey(k), members[k]...)
				pipe.SAdd(ctx, s.catalogueKey(k.Tag), string(k.ID))
			}
			return nil
		})
		return err
	}

	err = retry.Do(
		func() error {
			return s.client.Watch(ctx, txFn, watched...)
		},
		retry.Attempts(s.retries),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, redis.TxFailedErr)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		var serr *concourse.StoreError
		if errors.As(err, &serr) {
			return err
		}
		return faults.Errorf("unable to append batch: %w", err)
	}

	s.logger.Debug("Appended batch", log.Batch(len(batch)))
	return nil
}

// checkDuplicates looks, for every incoming event, for a stored member with
// the same sort key
func (s *Store) checkDuplicates(ctx context.Context, tx *redis.Tx, keys []store.StreamKey, groups map[store.StreamKey][]concourse.Event) error {
	type probe struct {
		key store.StreamKey
		ts  concourse.StreamTimestamp
		cmd *redis.StringSliceCmd
	}
	var probes []probe
	_, err := tx.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			for _, e := range groups[k] {
				prefix := e.Timestamp.SortKey() + separator
				probes = append(probes, probe{
					key: k,
					ts:  e.Timestamp,
					cmd: pipe.ZRangeByLex(ctx, s.streamKey(k), &redis.ZRangeBy{
						Min:   "[" + prefix,
						Max:   "[" + prefix + "\xff",
						Count: 1,
					}),
				})
			}
		}
		return nil
	})
	if err != nil {
		return faults.Wrap(err)
	}
	for _, p := range probes {
		if len(p.cmd.Val()) > 0 {
			return store.Duplicate(p.key, p.ts)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, tag concourse.Tag, ids ...concourse.AggregateID) (map[concourse.AggregateID]concourse.Stream, error) {
	ids = store.Distinct(ids)
	streams := store.EmptyStreams(ids)
	if len(ids) == 0 {
		return streams, nil
	}

	cmds := make([]*redis.StringSliceCmd, len(ids))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.ZRange(ctx, s.streamKey(store.StreamKey{Tag: tag, ID: id}), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, faults.Errorf("unable to load '%s' streams: %w", tag, err)
	}

	for i, id := range ids {
		members := cmds[i].Val()
		stream := make(concourse.Stream, 0, len(members))
		for _, m := range members {
			e, err := s.toEvent(tag, id, m)
			if err != nil {
				return nil, err
			}
			stream = append(stream, e)
		}
		streams[id] = stream
	}
	return streams, nil
}

func (s *Store) AggregateIDs(ctx context.Context, tag concourse.Tag) ([]concourse.AggregateID, error) {
	members, err := s.client.SMembers(ctx, s.catalogueKey(tag)).Result()
	if err != nil {
		return nil, faults.Errorf("unable to list '%s' aggregates: %w", tag, err)
	}
	ids := make([]concourse.AggregateID, len(members))
	for i, m := range members {
		ids[i] = concourse.AggregateID(m)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) toEvent(tag concourse.Tag, id concourse.AggregateID, member string) (concourse.Event, error) {
	sortKey, variant, payload, err := splitMember(member)
	if err != nil {
		return concourse.Event{}, err
	}
	ts, err := concourse.ParseSortKey(sortKey)
	if err != nil {
		return concourse.Event{}, err
	}
	data, err := s.codec.Decode(tag, variant, []byte(payload))
	if err != nil {
		return concourse.Event{}, err
	}
	return concourse.Event{
		Timestamp:   ts,
		AggregateID: id,
		Tag:         tag,
		Data:        data,
	}, nil
}

// splitMember splits "sortKey NUL variant NUL payload". The sort key holds a
// NUL of its own after the stream label, followed by the discriminator.
func splitMember(member string) (sortKey, variant, payload string, err error) {
	labelEnd := strings.Index(member, separator)
	keyEnd := labelEnd + 1 + idKeySize
	if labelEnd < 0 || len(member) <= keyEnd || member[keyEnd:keyEnd+1] != separator {
		return "", "", "", faults.Errorf("malformed stream member %q", member)
	}
	rest := member[keyEnd+1:]
	variantEnd := strings.Index(rest, separator)
	if variantEnd < 0 {
		return "", "", "", faults.Errorf("malformed stream member %q", member)
	}
	return member[:keyEnd], rest[:variantEnd], rest[variantEnd+1:], nil
}

// streamKey is "prefix:stream:len(tag):tag:id". The length keeps tags and ids
// holding ':' from mapping two streams to one key.
func (s *Store) streamKey(k store.StreamKey) string {
	return s.prefix + ":stream:" + strconv.Itoa(len(k.Tag)) + ":" + string(k.Tag) + ":" + string(k.ID)
}

func (s *Store) catalogueKey(tag concourse.Tag) string {
	return s.prefix + ":catalogue:" + string(tag)
}
