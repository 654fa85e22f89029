package keyringfakes

import (
	"sync"

	"github.com/0Ankit0/identitykit/token"
)

var _ token.Keyring = (*FakeKeyring)(nil)

// FakeKeyring is an in-memory keyring for tests.
type FakeKeyring struct {
	lock     sync.Mutex
	pair     *token.Pair
	tenantID string

	SaveCalls int
	LoadErr   error
	SaveErr   error
}

func NewFakeKeyring() *FakeKeyring {
	return &FakeKeyring{}
}

func (k *FakeKeyring) Load() (*token.Pair, string, error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	if k.LoadErr != nil {
		return nil, "", k.LoadErr
	}
	return k.pair, k.tenantID, nil
}

func (k *FakeKeyring) Save(pair *token.Pair, tenantID string) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.SaveCalls++
	if k.SaveErr != nil {
		return k.SaveErr
	}
	if pair.Valid() {
		cp := *pair
		k.pair = &cp
	} else {
		k.pair = nil
	}
	k.tenantID = tenantID
	return nil
}

// Pair returns the stored pair (nil when cleared).
func (k *FakeKeyring) Pair() *token.Pair {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.pair
}

// TenantID returns the stored tenant mirror.
func (k *FakeKeyring) TenantID() string {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.tenantID
}
