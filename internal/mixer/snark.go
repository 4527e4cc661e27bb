// snark.go - Groth16 withdrawal authorization over MiMC note hashes.
//
// The circuit proves knowledge of (amount, secret, nullifier) such that
//   noteCommitment = MiMC(amount, secret, nullifier)
//   nullifierTag   = MiMC(nullifier)
// and binds the proof to a public recipient. Keys are set up once and cached on disk.

package mixer

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"veil/internal/hashing"
)

// CircuitWithdraw is the withdrawal authorization circuit.
type CircuitWithdraw struct {
	// Public inputs
	NoteCommitment frontend.Variable `gnark:",public"`
	NullifierTag   frontend.Variable `gnark:",public"`
	Recipient      frontend.Variable `gnark:",public"`

	// Private inputs
	Amount    frontend.Variable
	Secret    frontend.Variable
	Nullifier frontend.Variable
}

func (c *CircuitWithdraw) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.Amount, c.Secret, c.Nullifier)
	api.AssertIsEqual(c.NoteCommitment, hasher.Sum())

	hasher.Reset()
	hasher.Write(c.Nullifier)
	api.AssertIsEqual(c.NullifierTag, hasher.Sum())

	// Recipient only needs to appear in a constraint to be bound to the proof.
	api.Mul(c.Recipient, c.Recipient)
	return nil
}

// Note is the depositor's private opening of a mixer commitment.
type Note struct {
	Amount    uint64         `json:"amount"`
	Secret    hashing.Digest `json:"secret"`
	Nullifier hashing.Digest `json:"nullifier"`
}

// ShieldedWithdrawal carries a Groth16 proof and its public inputs.
type ShieldedWithdrawal struct {
	NoteCommitment hashing.Digest `json:"note_commitment"`
	NullifierTag   hashing.Digest `json:"nullifier_tag"`
	Recipient      hashing.Digest `json:"recipient"`
	Proof          []byte         `json:"proof"`
}

func toElement(d hashing.Digest) fr.Element {
	var e fr.Element
	e.SetBytes(d[:])
	return e
}

func mimcElements(elems ...fr.Element) hashing.Digest {
	h := mimcNative.NewMiMC()
	for i := range elems {
		b := elems[i].Marshal()
		h.Write(b)
	}
	return hashing.FromBytes(h.Sum(nil))
}

func digestBig(d hashing.Digest) *big.Int {
	e := toElement(d)
	return e.BigInt(new(big.Int))
}

// NoteCommitment returns MiMC(amount, secret, nullifier) over the BN254 scalar field.
func NoteCommitment(n Note) hashing.Digest {
	var amount fr.Element
	amount.SetUint64(n.Amount)
	return mimcElements(amount, toElement(n.Secret), toElement(n.Nullifier))
}

// NullifierTag returns MiMC(nullifier) over the BN254 scalar field.
func NullifierTag(nullifier hashing.Digest) hashing.Digest {
	return mimcElements(toElement(nullifier))
}

// CompileWithdrawCircuit compiles CircuitWithdraw to R1CS over BN254.
func CompileWithdrawCircuit() (constraint.ConstraintSystem, error) {
	var circuit CircuitWithdraw
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Prover holds the compiled circuit and its Groth16 keys.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewProver compiles the circuit and loads keys from keyDir, generating and saving them
// when absent. An empty keyDir keeps freshly generated keys in memory only.
func NewProver(keyDir string) (*Prover, error) {
	ccs, err := CompileWithdrawCircuit()
	if err != nil {
		return nil, err
	}
	var pk groth16.ProvingKey
	var vk groth16.VerifyingKey
	if keyDir == "" {
		pk, vk, err = groth16.Setup(ccs)
	} else {
		if err := os.MkdirAll(keyDir, 0o755); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
		pk, vk, err = SetupOrLoadKeys(ccs,
			filepath.Join(keyDir, "withdraw_pk.bin"),
			filepath.Join(keyDir, "withdraw_vk.bin"))
	}
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &Prover{ccs: ccs, pk: pk, vk: vk}, nil
}

// Prove produces a withdrawal authorization for note, bound to recipient.
func (p *Prover) Prove(note Note, recipient hashing.Digest) (*ShieldedWithdrawal, error) {
	cm := NoteCommitment(note)
	tag := NullifierTag(note.Nullifier)
	assignment := &CircuitWithdraw{
		NoteCommitment: digestBig(cm),
		NullifierTag:   digestBig(tag),
		Recipient:      digestBig(recipient),
		Amount:         new(big.Int).SetUint64(note.Amount),
		Secret:         digestBig(note.Secret),
		Nullifier:      digestBig(note.Nullifier),
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return &ShieldedWithdrawal{
		NoteCommitment: cm,
		NullifierTag:   tag,
		Recipient:      recipient,
		Proof:          buf.Bytes(),
	}, nil
}

// Verify checks a withdrawal authorization against its public inputs.
func (p *Prover) Verify(sw *ShieldedWithdrawal) error {
	public := &CircuitWithdraw{
		NoteCommitment: digestBig(sw.NoteCommitment),
		NullifierTag:   digestBig(sw.NullifierTag),
		Recipient:      digestBig(sw.Recipient),
	}
	w, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(sw.Proof)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	if err := groth16.Verify(proof, p.vk, w); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys loads keys from disk if both exist; otherwise it runs a setup and
// saves the result.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
