package storage

import (
	"errors"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/syndtr/goleveldb/leveldb/util"

	"proofnet/internal/logging"
)

type pebbleKV struct{ db *pebble.DB }

func openPebbleKV(path string) (*pebbleKV, error) {
	db, err := pebble.Open(filepath.Clean(path), &pebble.Options{Logger: logging.L()})
	if err != nil {
		return nil, err
	}
	return &pebbleKV{db: db}, nil
}

func (s *pebbleKV) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *pebbleKV) Write(b *Batch) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, p := range b.puts {
		if err := batch.Set(p.key, p.value, nil); err != nil {
			return err
		}
	}
	for _, k := range b.deletes {
		if err := batch.Delete(k, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *pebbleKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	r := util.BytesPrefix(prefix)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: r.Start, UpperBound: r.Limit})
	if err != nil {
		return err
	}
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if err := fn(k, v); err != nil {
			it.Close()
			return err
		}
	}
	return it.Close()
}

func (s *pebbleKV) Close() error { return s.db.Close() }
