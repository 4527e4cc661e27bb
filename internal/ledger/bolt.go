// bolt.go - bbolt-backed ledger.

package ledger

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"veil/internal/errdefs"
	"veil/internal/hashing"
)

var (
	bucketKeyImages   = []byte("key_images")
	bucketNullifiers  = []byte("nullifiers")
	bucketCommitments = []byte("commitments_by_seq")
	bucketRoots       = []byte("roots")
	bucketNotes       = []byte("note_commitments")
	bucketMeta        = []byte("meta")

	metaRoot = []byte("root")
)

// BoltStore persists the ledger in a single bbolt file. Each Spend and Append runs in one
// read-write transaction, which bbolt serializes.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the store at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("ledger path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger dir")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketKeyImages, bucketNullifiers, bucketCommitments, bucketRoots, bucketNotes, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "create bucket %s", b)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) spend(bucket []byte, key hashing.Digest, reused *errdefs.Error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get(key[:]) != nil {
			return reused.Withf("%s", key)
		}
		return errors.Wrapf(b.Put(key[:], []byte{1}), "put %s", bucket)
	})
}

func (s *BoltStore) has(bucket []byte, key hashing.Digest) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucket).Get(key[:]) != nil
		return nil
	})
	return found, errors.Wrapf(err, "read %s", bucket)
}

func (s *BoltStore) SpendKeyImage(ki hashing.Digest) error {
	return s.spend(bucketKeyImages, ki, errdefs.ErrKeyImageSpent)
}

func (s *BoltStore) HasKeyImage(ki hashing.Digest) (bool, error) {
	return s.has(bucketKeyImages, ki)
}

func (s *BoltStore) SpendNullifier(nh hashing.Digest) error {
	return s.spend(bucketNullifiers, nh, errdefs.ErrNullifierSpent)
}

func (s *BoltStore) HasNullifier(nh hashing.Digest) (bool, error) {
	return s.has(bucketNullifiers, nh)
}

func currentRoot(tx *bolt.Tx) hashing.Digest {
	v := tx.Bucket(bucketMeta).Get(metaRoot)
	if v == nil {
		return hashing.Zero
	}
	return hashing.FromBytes(v)
}

func (s *BoltStore) AppendCommitment(cm hashing.Digest) (hashing.Digest, error) {
	return s.AppendDeposit(cm, nil)
}

// AppendDeposit runs the commitment append and the note commitment put in one
// transaction, so a failed put rolls the append back.
func (s *BoltStore) AppendDeposit(cm hashing.Digest, noteCommitment *hashing.Digest) (hashing.Digest, error) {
	var root hashing.Digest
	err := s.db.Update(func(tx *bolt.Tx) error {
		cms := tx.Bucket(bucketCommitments)
		seq, err := cms.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next commitment sequence")
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := cms.Put(key[:], cm.Bytes()); err != nil {
			return errors.Wrap(err, "put commitment")
		}
		root = nextRoot(currentRoot(tx), cm)
		if err := tx.Bucket(bucketRoots).Put(root[:], key[:]); err != nil {
			return errors.Wrap(err, "put root")
		}
		if err := tx.Bucket(bucketMeta).Put(metaRoot, root.Bytes()); err != nil {
			return errors.Wrap(err, "put current root")
		}
		if noteCommitment != nil {
			return putNote(tx, *noteCommitment)
		}
		return nil
	})
	if err != nil {
		return hashing.Zero, err
	}
	return root, nil
}

func (s *BoltStore) Root() (hashing.Digest, error) {
	var root hashing.Digest
	err := s.db.View(func(tx *bolt.Tx) error {
		root = currentRoot(tx)
		return nil
	})
	return root, err
}

func (s *BoltStore) MerkleProof() ([]hashing.Digest, error) {
	var out []hashing.Digest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommitments).ForEach(func(_, v []byte) error {
			out = append(out, hashing.FromBytes(v))
			return nil
		})
	})
	return out, errors.Wrap(err, "read commitments")
}

func (s *BoltStore) IsKnownRoot(root hashing.Digest) (bool, error) {
	return s.has(bucketRoots, root)
}

func putNote(tx *bolt.Tx, cm hashing.Digest) error {
	b := tx.Bucket(bucketNotes)
	if b == nil {
		return errors.Errorf("bucket %s missing", bucketNotes)
	}
	return errors.Wrap(b.Put(cm[:], []byte{1}), "put note commitment")
}

func (s *BoltStore) AddNoteCommitment(cm hashing.Digest) error {
	return s.db.Update(func(tx *bolt.Tx) error { return putNote(tx, cm) })
}

func (s *BoltStore) HasNoteCommitment(cm hashing.Digest) (bool, error) {
	return s.has(bucketNotes, cm)
}

func (s *BoltStore) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		st.KeyImages = tx.Bucket(bucketKeyImages).Stats().KeyN
		st.Nullifiers = tx.Bucket(bucketNullifiers).Stats().KeyN
		st.Commitments = tx.Bucket(bucketCommitments).Stats().KeyN
		st.NoteCommitments = tx.Bucket(bucketNotes).Stats().KeyN
		return nil
	})
	return st, errors.Wrap(err, "read stats")
}
