package ledger

import (
	"context"
	"fmt"

	"github.com/hyperledger/fabric-chaincode-go/shim"
)

// FabricStore adapts the world state of one chaincode invocation. Fabric
// already makes the invocation atomic: if the contract function returns an
// error the peer discards its write set. GetState does not see writes made
// earlier in the same invocation, so writes are staged and only handed to the
// stub once fn succeeds.
type FabricStore struct {
	stub shim.ChaincodeStubInterface
}

// NewFabricStore wraps the stub of the current invocation
func NewFabricStore(stub shim.ChaincodeStubInterface) *FabricStore {
	return &FabricStore{stub: stub}
}

type stubReader struct {
	stub shim.ChaincodeStubInterface
}

func (r stubReader) Get(key string) ([]byte, error) {
	value, err := r.stub.GetState(key)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	return value, nil
}

// Update implements Store
func (s *FabricStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx := newOverlay(stubReader{stub: s.stub})
	if err := fn(tx); err != nil {
		return err
	}

	return tx.flush(
		func(key string, value []byte) error {
			if err := s.stub.PutState(key, value); err != nil {
				return fmt.Errorf("failed to put state: %w", err)
			}
			return nil
		},
		func(key string) error {
			if err := s.stub.DelState(key); err != nil {
				return fmt.Errorf("failed to delete state: %w", err)
			}
			return nil
		},
	)
}

// View implements Store
func (s *FabricStore) View(ctx context.Context, fn func(r Reader) error) error {
	return fn(stubReader{stub: s.stub})
}
