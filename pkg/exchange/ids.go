package exchange

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
)

// IDGenerator hands out the ids of the messages and images a send creates.
type IDGenerator interface {
	NewID() string
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// IDGeneratorFunc adapts a function, mostly for tests.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string {
	return f()
}

// newExchangeID is the correlation id events of one exchange share.
func newExchangeID() string {
	return shortuuid.New()
}

var (
	_ IDGenerator = UUIDGenerator{}
	_ IDGenerator = IDGeneratorFunc(nil)
)
