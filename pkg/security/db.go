package security

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/theater/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCA      = []byte("ca")
	bucketSecrets = []byte("secrets")
)

// DB is the security package's own small bbolt-backed key-value store: the
// CA's root key material and the Secret table (SPEC_FULL.md §3), neither of
// which is content-addressed the way pkg/store's blobs are. Grounded on
// pkg/storage/boltdb.go's bucket-per-concern shape, trimmed to just the two
// buckets this domain needs.
type DB struct {
	db *bolt.DB
}

// OpenDB opens (creating if necessary) the bbolt file under dataDir.
func OpenDB(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "security.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open security database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCA, bucketSecrets} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// Close closes the underlying bbolt file.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveCA persists the CA's serialized data under a fixed key.
func (d *DB) SaveCA(data []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

// GetCA retrieves the CA's serialized data.
func (d *DB) GetCA() ([]byte, error) {
	var data []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// PutSecret stores or overwrites a secret, keyed by name.
func (d *DB) PutSecret(secret *types.Secret) error {
	now := time.Now()
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = now
	}
	secret.UpdatedAt = now

	data, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put([]byte(secret.Name), data)
	})
}

// GetSecret retrieves a secret by name.
func (d *DB) GetSecret(name string) (*types.Secret, error) {
	var secret types.Secret
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSecrets).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("secret %q not found", name)
		}
		return json.Unmarshal(v, &secret)
	})
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

// DeleteSecret removes a secret by name.
func (d *DB) DeleteSecret(name string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Delete([]byte(name))
	})
}

// ListSecrets returns every secret's name, sorted by bbolt's natural
// byte-order key iteration.
func (d *DB) ListSecrets() ([]string, error) {
	var names []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
