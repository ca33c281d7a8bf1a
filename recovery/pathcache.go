package recovery

import (
	"time"

	"exanodes.dev/vrt/uuid"
	bolt "go.etcd.io/bbolt"
)

var pathCacheBucket = []byte("rdev_paths")

// PathCache persists the device-path a node discovered for each rdev
// UUID across restarts, so a subsequent boot can try the last-known
// path first before falling back to a full glob scan.
type PathCache struct {
	db *bolt.DB
}

// OpenPathCache opens (creating if necessary) a bbolt-backed path cache
// at path.
func OpenPathCache(path string) (*PathCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pathCacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &PathCache{db: db}, nil
}

// Close releases the underlying bbolt file.
func (c *PathCache) Close() error {
	return c.db.Close()
}

// Put records the last-known device path for u.
func (c *PathCache) Put(u uuid.UUID, path string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pathCacheBucket)
		return b.Put(u.Bytes(), []byte(path))
	})
}

// Get returns the last-known device path for u, or "" if none is
// recorded.
func (c *PathCache) Get(u uuid.UUID) (string, error) {
	var path string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pathCacheBucket)
		v := b.Get(u.Bytes())
		if v != nil {
			path = string(v)
		}
		return nil
	})
	return path, err
}

// All returns every cached UUID -> path pair, used to seed a scan's
// priority order (try cached paths before the full glob).
func (c *PathCache) All() (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pathCacheBucket)
		return b.ForEach(func(k, v []byte) error {
			out[uuid.FromBytes(k)] = string(v)
			return nil
		})
	})
	return out, err
}
