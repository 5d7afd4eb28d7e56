// Package fabrictest provides in-memory stand-ins for the Fabric chaincode
// stub and client identity.
package fabrictest

import (
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Stub is a chaincode stub backed by a map. Only the world-state and
// timestamp methods are implemented; anything else panics.
type Stub struct {
	shim.ChaincodeStubInterface

	State  map[string][]byte
	TxTime time.Time

	// PutErr makes every PutState fail when set.
	PutErr error
	// Puts counts successful PutState calls.
	Puts int
}

// NewStub creates an empty stub with the transaction time set to txTime
func NewStub(txTime time.Time) *Stub {
	return &Stub{State: make(map[string][]byte), TxTime: txTime}
}

// GetState returns nil for a missing key, as the peer does
func (s *Stub) GetState(key string) ([]byte, error) {
	value, ok := s.State[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// PutState stores value under key
func (s *Stub) PutState(key string, value []byte) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	if key == "" {
		return fmt.Errorf("key must not be an empty string")
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.State[key] = stored
	s.Puts++
	return nil
}

// DelState removes key
func (s *Stub) DelState(key string) error {
	delete(s.State, key)
	return nil
}

// GetTxTimestamp returns the configured transaction time
func (s *Stub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.TxTime), nil
}

// Keys returns the stored keys in order
func (s *Stub) Keys() []string {
	keys := make([]string, 0, len(s.State))
	for key := range s.State {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Identity is a client identity with a fixed ID
type Identity struct {
	cid.ClientIdentity

	ID string
}

// GetID returns the configured ID
func (i *Identity) GetID() (string, error) {
	if i.ID == "" {
		return "", fmt.Errorf("identity has no ID")
	}
	return i.ID, nil
}
