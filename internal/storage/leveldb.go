package storage

import (
	"errors"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type levelKV struct{ db *leveldb.DB }

func openLevelKV(path string) (*levelKV, error) {
	db, err := leveldb.OpenFile(filepath.Clean(path), nil)
	if err != nil {
		return nil, err
	}
	return &levelKV{db: db}, nil
}

func (s *levelKV) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *levelKV) Write(b *Batch) error {
	batch := new(leveldb.Batch)
	for _, p := range b.puts {
		batch.Put(p.key, p.value)
	}
	for _, k := range b.deletes {
		batch.Delete(k)
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *levelKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		// iterator buffers are reused
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *levelKV) Close() error { return s.db.Close() }
