package peercall

import (
	"context"
	"io"

	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
	"github.com/opd-ai/peercall/signaling/redisstore"
)

// Options configures a Client. Only Identity.UserID is mandatory.
type Options struct {
	// Identity is the local endpoint identity.
	Identity call.Identity

	// Redis configures the signaling store. Ignored when Channel is set.
	Redis redisstore.Config

	// Channel overrides the signaling transport, e.g. a MemoryChannel in
	// tests or an alternative store implementation.
	Channel signaling.Channel

	// ICE lists STUN/TURN servers for connectivity establishment.
	ICE media.ICEConfig

	// Devices supplies capture tracks; nil uses a synthetic static source.
	Devices media.DeviceSource

	// Call tunes timeouts and the retry budget.
	Call call.Config

	// SealKey, when set, seals every signaling payload with NaCl secretbox
	// so the store relay sees only ciphertext. Both endpoints must share
	// the key; key agreement happens outside this package.
	SealKey *[32]byte

	// Resolver overrides inbox path resolution. Nil uses the canonical
	// store layout keyed directly by user id.
	Resolver call.Resolver
}

// Client is the top-level handle: one signaling connection plus one call
// session. It embeds the session, so the full call surface (StartCall,
// AnswerCall, RejectCall, EndCall, ListenIncoming, mute and video toggles,
// state callbacks) is available directly on the client.
type Client struct {
	*call.Session
	store io.Closer
}

// New connects to the signaling store and creates a call session bound to
// the configured identity.
func New(ctx context.Context, opts Options) (*Client, error) {
	channel := opts.Channel
	var store io.Closer
	if channel == nil {
		redisStore, err := redisstore.Open(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		channel = redisStore
		store = redisStore
	}
	if opts.SealKey != nil {
		cipher := signaling.NewSecretBoxCipher(*opts.SealKey)
		channel = signaling.NewSealedChannel(channel, cipher)
	}

	factory := func() (media.Engine, error) {
		return media.NewWebRTCEngine(opts.ICE, opts.Devices)
	}

	session, err := call.NewSession(channel, factory, opts.Identity, opts.Resolver, opts.Call)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &Client{Session: session, store: store}, nil
}

// Close ends any active call, shuts down the session, and disconnects from
// the store.
func (c *Client) Close() error {
	err := c.Session.Close()
	if c.store != nil {
		if cerr := c.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
