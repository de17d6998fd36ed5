package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"creditnet/native/credit"
	"creditnet/storage"
)

// Manager provides typed access to every ledger record persisted in the
// node's key-value store. Keys are prefixed, keccak-hashed byte strings;
// values are RLP-encoded mirror structs.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	creditLinePrefix   = []byte("credit/line:")
	creditPoolPrefix   = []byte("credit/pool:")
	creditLoanPrefix   = []byte("credit/loan:")
	creditBorrowPrefix = []byte("credit/borrowed:")
	creditCountsPrefix = []byte("credit/counts:")
	creditLoanSeqKey   = ethcrypto.Keccak256([]byte("credit/loan-seq"))
	ownerPrefix        = []byte("registry/owner:")
	balancePrefix      = []byte("balance:")
	tokenPrefix        = []byte("token:")
	tokenListKey       = ethcrypto.Keccak256([]byte("token-list"))
	genesisAppliedKey  = ethcrypto.Keccak256([]byte("genesis-applied"))
	stateVersionKey    = ethcrypto.Keccak256([]byte("state-version"))
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) getRecord(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putRecord(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.getRecord(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	return m.putRecord(key, value)
}

// --- Registered assets ---

func tokenMetadataKey(symbol string) []byte {
	return prefixedKey(tokenPrefix, []byte(symbol))
}

type tokenMetadata struct {
	Symbol   string
	Decimals uint8
}

// RegisterToken records an asset symbol as lendable on this node. The symbol
// is canonicalised before storage; registering an existing symbol overwrites
// its metadata.
func (m *Manager) RegisterToken(symbol string, decimals uint8) error {
	normalized, err := credit.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	found := false
	for _, existing := range list {
		if existing == normalized {
			found = true
			break
		}
	}
	if !found {
		list = append(list, normalized)
		sort.Strings(list)
		if err := m.putRecord(tokenListKey, list); err != nil {
			return err
		}
	}
	return m.putRecord(tokenMetadataKey(normalized), &tokenMetadata{Symbol: normalized, Decimals: decimals})
}

// HasToken reports whether a canonical symbol has been registered.
func (m *Manager) HasToken(symbol string) (bool, error) {
	return m.db.Has(tokenMetadataKey(symbol))
}

// TokenList returns the registered asset symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	var list []string
	ok, err := m.getRecord(tokenListKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// --- Genesis marker ---

// MarkGenesisApplied stamps the store so the genesis file is only applied to
// an empty database.
func (m *Manager) MarkGenesisApplied(chainName string) error {
	if chainName == "" {
		return fmt.Errorf("state: chain name must not be empty")
	}
	return m.putRecord(genesisAppliedKey, chainName)
}

// GenesisApplied returns the chain name stamped at bootstrap, if any.
func (m *Manager) GenesisApplied() (string, bool, error) {
	var name string
	ok, err := m.getRecord(genesisAppliedKey, &name)
	if err != nil {
		return "", false, err
	}
	return name, ok, nil
}
