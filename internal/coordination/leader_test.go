package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAlwaysLeader(t *testing.T) {
	var e Elector = AlwaysLeader{}
	assert.True(t, e.IsLeader())
}

func TestNewEtcdElectorRequiresEndpoints(t *testing.T) {
	_, err := NewEtcdElector(Config{Prefix: "/fno/test"}, zap.NewNop())
	assert.Error(t, err)
}
