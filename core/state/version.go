package state

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// StateVersion identifies the expected on-disk schema layout for the ledger
// state. Increment this constant whenever breaking changes are made to the
// stored structure.
const StateVersion uint32 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

// SetStateVersion records the provided schema version in state. Callers should
// invoke this after performing any required migrations.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.writeBigInt(stateVersionKey, new(big.Int).SetUint64(uint64(version)))
}

// SchemaVersion returns the stored schema version and whether one was present.
func (m *Manager) SchemaVersion() (uint32, bool, error) {
	if m == nil {
		return 0, false, fmt.Errorf("state: manager unavailable")
	}
	stored := new(big.Int)
	ok, err := m.getRecord(stateVersionKey, stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if !stored.IsUint64() || stored.Uint64() > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %s", stored)
	}
	return uint32(stored.Uint64()), true, nil
}

// EnsureStateVersion verifies that the on-disk schema matches this binary,
// stamping fresh databases with the current version. When allowMigrate is
// true, mismatches are tolerated so operators can perform manual migrations.
func (m *Manager) EnsureStateVersion(allowMigrate bool) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	version, ok, err := m.SchemaVersion()
	if err != nil {
		return err
	}
	if !ok {
		return m.SetStateVersion(StateVersion)
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
