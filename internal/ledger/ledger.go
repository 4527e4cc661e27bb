// ledger.go - In-memory ledger with JSON snapshots.

package ledger

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"veil/internal/errdefs"
	"veil/internal/hashing"
)

// Ledger keeps every set in memory. It is safe for concurrent use; SaveToFile writes a
// snapshot that LoadLedgerFromFile restores.
type Ledger struct {
	mu sync.Mutex

	KeyImages       []hashing.Digest `json:"key_images"`
	Nullifiers      []hashing.Digest `json:"nullifiers"`
	Commitments     []hashing.Digest `json:"commitments"`
	Roots           []hashing.Digest `json:"roots"`
	NoteCommitments []hashing.Digest `json:"note_commitments"`

	keyImages  map[hashing.Digest]struct{}
	nullifiers map[hashing.Digest]struct{}
	roots      map[hashing.Digest]struct{}
	notes      map[hashing.Digest]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{
		KeyImages:       make([]hashing.Digest, 0),
		Nullifiers:      make([]hashing.Digest, 0),
		Commitments:     make([]hashing.Digest, 0),
		Roots:           make([]hashing.Digest, 0),
		NoteCommitments: make([]hashing.Digest, 0),
	}
	l.reindex()
	return l
}

func indexOf(list []hashing.Digest) map[hashing.Digest]struct{} {
	m := make(map[hashing.Digest]struct{}, len(list))
	for _, d := range list {
		m[d] = struct{}{}
	}
	return m
}

func (l *Ledger) reindex() {
	l.keyImages = indexOf(l.KeyImages)
	l.nullifiers = indexOf(l.Nullifiers)
	l.roots = indexOf(l.Roots)
	l.notes = indexOf(l.NoteCommitments)
}

func (l *Ledger) SpendKeyImage(ki hashing.Digest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keyImages[ki]; ok {
		return errdefs.ErrKeyImageSpent.Withf("%s", ki)
	}
	l.keyImages[ki] = struct{}{}
	l.KeyImages = append(l.KeyImages, ki)
	return nil
}

func (l *Ledger) HasKeyImage(ki hashing.Digest) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keyImages[ki]
	return ok, nil
}

func (l *Ledger) SpendNullifier(nh hashing.Digest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.nullifiers[nh]; ok {
		return errdefs.ErrNullifierSpent.Withf("%s", nh)
	}
	l.nullifiers[nh] = struct{}{}
	l.Nullifiers = append(l.Nullifiers, nh)
	return nil
}

func (l *Ledger) HasNullifier(nh hashing.Digest) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.nullifiers[nh]
	return ok, nil
}

func (l *Ledger) AppendCommitment(cm hashing.Digest) (hashing.Digest, error) {
	return l.AppendDeposit(cm, nil)
}

func (l *Ledger) AppendDeposit(cm hashing.Digest, noteCommitment *hashing.Digest) (hashing.Digest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	root := nextRoot(l.root(), cm)
	l.Commitments = append(l.Commitments, cm)
	l.Roots = append(l.Roots, root)
	l.roots[root] = struct{}{}
	if noteCommitment != nil {
		l.addNote(*noteCommitment)
	}
	return root, nil
}

func (l *Ledger) root() hashing.Digest {
	if len(l.Roots) == 0 {
		return hashing.Zero
	}
	return l.Roots[len(l.Roots)-1]
}

func (l *Ledger) Root() (hashing.Digest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root(), nil
}

func (l *Ledger) MerkleProof() ([]hashing.Digest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hashing.Digest(nil), l.Commitments...), nil
}

// IsKnownRoot reports whether root was the tree root after some append. The empty root
// is never known.
func (l *Ledger) IsKnownRoot(root hashing.Digest) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.roots[root]
	return ok, nil
}

func (l *Ledger) AddNoteCommitment(cm hashing.Digest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addNote(cm)
	return nil
}

func (l *Ledger) addNote(cm hashing.Digest) {
	if _, ok := l.notes[cm]; ok {
		return
	}
	l.notes[cm] = struct{}{}
	l.NoteCommitments = append(l.NoteCommitments, cm)
}

func (l *Ledger) HasNoteCommitment(cm hashing.Digest) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.notes[cm]
	return ok, nil
}

func (l *Ledger) Stats() (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		KeyImages:       len(l.KeyImages),
		Nullifiers:      len(l.Nullifiers),
		Commitments:     len(l.Commitments),
		NoteCommitments: len(l.NoteCommitments),
	}, nil
}

func (l *Ledger) Close() error { return nil }

// SaveToFile writes the ledger as indented JSON, overwriting path.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create ledger snapshot")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(l), "encode ledger snapshot")
}

// LoadLedgerFromFile restores a snapshot written by SaveToFile.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger snapshot")
	}
	defer f.Close()
	l := NewLedger()
	if err := json.NewDecoder(f).Decode(l); err != nil {
		return nil, errors.Wrapf(err, "decode ledger snapshot %s", path)
	}
	if len(l.Roots) != len(l.Commitments) {
		return nil, errors.Errorf("corrupt ledger snapshot: %d roots for %d commitments", len(l.Roots), len(l.Commitments))
	}
	l.reindex()
	return l, nil
}
