package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultNoAnswerTimeout, cfg.NoAnswerTimeout)
	assert.Equal(t, DefaultMaxConnectionRetries, cfg.MaxConnectionRetries)
	assert.Equal(t, DefaultDisconnectGrace, cfg.DisconnectGrace)
	assert.Equal(t, DefaultEventQueueSize, cfg.EventQueueSize)
	assert.IsType(t, SystemClock{}, cfg.Clock)
}

func TestConfigExplicitValuesKept(t *testing.T) {
	clock := newFakeClock()
	cfg := Config{
		NoAnswerTimeout:      10 * time.Second,
		MaxConnectionRetries: 1,
		DisconnectGrace:      time.Second,
		EventQueueSize:       8,
		Clock:                clock,
	}.withDefaults()

	assert.Equal(t, 10*time.Second, cfg.NoAnswerTimeout)
	assert.Equal(t, 1, cfg.MaxConnectionRetries)
	assert.Equal(t, time.Second, cfg.DisconnectGrace)
	assert.Equal(t, 8, cfg.EventQueueSize)
	assert.Same(t, clock, cfg.Clock.(*fakeClock))
}

func TestStaticResolver(t *testing.T) {
	inbox, err := StaticResolver{}.Inbox("alice")
	require.NoError(t, err)
	assert.Equal(t, "calls/alice", inbox)

	_, err = StaticResolver{}.Inbox("")
	assert.ErrorIs(t, err, ErrUserUnreachable)
}
