package circuit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// File names for the compiled constraint system and Groth16 key pair inside
// the key directory. The keys are generated once at circuit setup and fixed
// for the system's lifetime; regenerating them invalidates every previously
// issued proof.
const (
	R1CSFile         = "ensemble.r1cs"
	ProvingKeyFile   = "ensemble.pk"
	VerifyingKeyFile = "ensemble.vk"
)

// Compile builds the R1CS constraint system for the ensemble circuit.
func Compile() (constraint.ConstraintSystem, error) {
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &EnsembleCircuit{})
	if err != nil {
		return nil, fmt.Errorf("circuit: compile: %w", err)
	}
	return cs, nil
}

// Setup compiles the circuit, runs the one-time Groth16 setup, and writes the
// constraint system and both keys into dir. It refuses to overwrite an
// existing verifying key: the key material is deploy-once configuration and
// re-initialization is a forbidden operation, not a supported reset.
func Setup(dir string) error {
	vkPath := filepath.Join(dir, VerifyingKeyFile)
	if _, err := os.Stat(vkPath); err == nil {
		return fmt.Errorf("circuit: verifying key already exists at %s; refusing to regenerate", vkPath)
	}

	cs, err := Compile()
	if err != nil {
		return err
	}

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("circuit: groth16 setup: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("circuit: create key dir: %w", err)
	}

	if err := writeTo(filepath.Join(dir, R1CSFile), cs.WriteTo); err != nil {
		return err
	}
	if err := writeTo(filepath.Join(dir, ProvingKeyFile), pk.WriteTo); err != nil {
		return err
	}
	if err := writeTo(vkPath, vk.WriteTo); err != nil {
		return err
	}

	return nil
}

// LoadVerifyingKey reads the Groth16 verifying key from dir.
func LoadVerifyingKey(dir string) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readInto(filepath.Join(dir, VerifyingKeyFile), vk.ReadFrom); err != nil {
		return nil, err
	}
	return vk, nil
}

// LoadProvingKey reads the Groth16 proving key from dir.
func LoadProvingKey(dir string) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readInto(filepath.Join(dir, ProvingKeyFile), pk.ReadFrom); err != nil {
		return nil, err
	}
	return pk, nil
}

// LoadConstraintSystem reads the compiled R1CS from dir.
func LoadConstraintSystem(dir string) (constraint.ConstraintSystem, error) {
	cs := groth16.NewCS(ecc.BN254)
	if err := readInto(filepath.Join(dir, R1CSFile), cs.ReadFrom); err != nil {
		return nil, err
	}
	return cs, nil
}

func writeTo(path string, write func(w io.Writer) (int64, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("circuit: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := write(f); err != nil {
		return fmt.Errorf("circuit: write %s: %w", path, err)
	}
	return nil
}

func readInto(path string, read func(r io.Reader) (int64, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("circuit: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := read(f); err != nil {
		return fmt.Errorf("circuit: read %s: %w", path, err)
	}
	return nil
}
