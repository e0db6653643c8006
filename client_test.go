package veilchat

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat/keystore"
	"github.com/veilchat/veilchat/lifecycle"
	"github.com/veilchat/veilchat/protocol"
	"github.com/veilchat/veilchat/relay"
	"github.com/veilchat/veilchat/transport"
)

// memorySocket bridges the in-process relay's fan-out into a transport
// socket. Client-to-server signals are recorded for assertions.
type memorySocket struct {
	incoming chan protocol.Event
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written []protocol.Event
}

func newMemorySocket(r *relay.MemoryRelay) *memorySocket {
	s := &memorySocket{
		incoming: make(chan protocol.Event, 64),
		done:     make(chan struct{}),
	}
	r.Subscribe(func(event protocol.Event) {
		select {
		case s.incoming <- event:
		case <-s.done:
		default:
		}
	})
	return s
}

func (s *memorySocket) ReadEvent() (protocol.Event, error) {
	select {
	case event := <-s.incoming:
		return event, nil
	case <-s.done:
		return protocol.Event{}, errors.New("socket closed")
	}
}

func (s *memorySocket) WriteEvent(event protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, event)
	return nil
}

func (s *memorySocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *memorySocket) writtenTypes() []protocol.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.EventType, len(s.written))
	for i, e := range s.written {
		out[i] = e.Type
	}
	return out
}

type memoryDialer struct {
	relay *relay.MemoryRelay

	mu     sync.Mutex
	socket *memorySocket
}

func (d *memoryDialer) Dial(ctx context.Context) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.socket = newMemorySocket(d.relay)
	return d.socket, nil
}

func (d *memoryDialer) current() *memorySocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socket
}

type testPeer struct {
	client *Client
	dialer *memoryDialer
	modes  chan transport.Mode
}

func newTestPeer(t *testing.T, r *relay.MemoryRelay, userID string) *testPeer {
	t.Helper()

	dialer := &memoryDialer{relay: r}
	opts := NewOptions()
	opts.UserID = userID
	opts.TypingTimeout = 50 * time.Millisecond
	opts.Store = keystore.NewMemoryStore()
	opts.Relay = r.AsUser(userID)
	opts.Dialer = dialer

	client, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	p := &testPeer{client: client, dialer: dialer, modes: make(chan transport.Mode, 8)}
	client.OnTransportMode(func(m transport.Mode) { p.modes <- m })
	return p
}

func (p *testPeer) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, p.client.Connect(context.Background()))
	waitForMode(t, p.modes, transport.ModePush)
}

func waitForMode(t *testing.T, modes chan transport.Mode, want transport.Mode) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-modes:
			if m == want {
				return
			}
		case <-deadline:
			t.Fatalf("mode %v never reached", want)
		}
	}
}

func peerKey(t *testing.T, c *Client) [32]byte {
	t.Helper()
	hexKey, err := c.PublicKey()
	require.NoError(t, err)
	raw, err := hex.DecodeString(hexKey)
	require.NoError(t, err)
	var key [32]byte
	copy(key[:], raw)
	return key
}

func pair(t *testing.T, r *relay.MemoryRelay, conversationID string) (*testPeer, *testPeer) {
	t.Helper()

	alice := newTestPeer(t, r, "alice")
	bob := newTestPeer(t, r, "bob")

	members := []string{"alice", "bob"}
	alice.client.Roster().SetMembers(conversationID, members)
	bob.client.Roster().SetMembers(conversationID, members)
	alice.client.Roster().SetDeviceKey("bob", "default", peerKey(t, bob.client))
	bob.client.Roster().SetDeviceKey("alice", "default", peerKey(t, alice.client))

	alice.connect(t)
	bob.connect(t)
	return alice, bob
}

func TestSendAndReceiveEndToEnd(t *testing.T) {
	r := relay.NewMemoryRelay()
	alice, bob := pair(t, r, "conv-1")

	type received struct {
		msg       *lifecycle.Message
		plaintext []byte
	}
	got := make(chan received, 4)
	bob.client.OnMessage(func(msg *lifecycle.Message, plaintext []byte) {
		got <- received{msg, plaintext}
	})

	sent, err := alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("hello"))
	require.NoError(t, err)
	require.NotNil(t, sent)

	select {
	case rec := <-got:
		assert.Equal(t, "alice", rec.msg.SenderID)
		assert.Equal(t, []byte("hello"), rec.plaintext)
		assert.Len(t, rec.msg.Envelope.RecipientKeys, 2, "one wrap for bob, one self-wrap")
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the message")
	}

	// The sender re-reads their own message through the self-wrap.
	aliceMsgs := alice.client.Messages("conv-1")
	require.Len(t, aliceMsgs, 1, "push echo of the own send must not duplicate")
	plaintext, err := alice.client.Decrypt(aliceMsgs[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)

	// The receiver acknowledged delivery on the push channel.
	assert.Eventually(t, func() bool {
		sock := bob.dialer.current()
		if sock == nil {
			return false
		}
		for _, typ := range sock.writtenTypes() {
			if typ == protocol.EventMessageDelivered {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReadReceiptPropagates(t *testing.T) {
	r := relay.NewMemoryRelay()
	alice, bob := pair(t, r, "conv-1")

	statuses := make(chan lifecycle.Status, 4)
	alice.client.OnStatusUpdate(func(messageID string, status lifecycle.Status) {
		statuses <- status
	})

	sent, err := alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bob.client.Messages("conv-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.client.MarkRead(context.Background(), sent.ID))

	select {
	case status := <-statuses:
		assert.Equal(t, lifecycle.StatusRead, status)
	case <-time.After(2 * time.Second):
		t.Fatal("read receipt never reached the sender")
	}
}

func TestDeleteForEveryonePropagates(t *testing.T) {
	r := relay.NewMemoryRelay()
	alice, bob := pair(t, r, "conv-1")

	sent, err := alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("oops"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bob.client.Messages("conv-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Recipients cannot delete for everyone.
	err = bob.client.DeleteMessage(context.Background(), sent.ID, true)
	assert.ErrorIs(t, err, lifecycle.ErrNotSender)

	require.NoError(t, alice.client.DeleteMessage(context.Background(), sent.ID, true))

	require.Eventually(t, func() bool {
		msgs := bob.client.Messages("conv-1")
		return len(msgs) == 1 && msgs[0].Deletion == lifecycle.DeletedForEveryone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeleteForSelfIsLocal(t *testing.T) {
	r := relay.NewMemoryRelay()
	alice, bob := pair(t, r, "conv-1")

	sent, err := alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("keep for bob"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bob.client.Messages("conv-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.client.DeleteMessage(context.Background(), sent.ID, false))

	assert.Empty(t, alice.client.Messages("conv-1"))
	assert.Len(t, bob.client.Messages("conv-1"), 1, "delete-for-self never touches other participants")
}

func TestTypingDebounceEmitsStartAndStop(t *testing.T) {
	r := relay.NewMemoryRelay()
	alice, _ := pair(t, r, "conv-1")

	alice.client.MarkTyping("conv-1")
	alice.client.MarkTyping("conv-1")

	require.Eventually(t, func() bool {
		sock := alice.dialer.current()
		if sock == nil {
			return false
		}
		types := sock.writtenTypes()
		starts, stops := 0, 0
		for _, typ := range types {
			switch typ {
			case protocol.EventTypingStart:
				starts++
			case protocol.EventTypingStop:
				stops++
			}
		}
		return starts == 1 && stops == 1
	}, 2*time.Second, 10*time.Millisecond, "two keystrokes collapse into one start/stop pair")
}

func TestHistoryLoadOnConnect(t *testing.T) {
	r := relay.NewMemoryRelay()

	alice := newTestPeer(t, r, "alice")
	bob := newTestPeer(t, r, "bob")
	members := []string{"alice", "bob"}
	alice.client.Roster().SetMembers("conv-1", members)
	bob.client.Roster().SetMembers("conv-1", members)
	alice.client.Roster().SetDeviceKey("bob", "default", peerKey(t, bob.client))
	bob.client.Roster().SetDeviceKey("alice", "default", peerKey(t, alice.client))

	// Alice sends while bob is offline.
	alice.connect(t)
	_, err := alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("first"))
	require.NoError(t, err)
	_, err = alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("second"))
	require.NoError(t, err)

	// Bob's connect backfills the history.
	bob.connect(t)

	msgs := bob.client.Messages("conv-1")
	require.Len(t, msgs, 2)
	first, err := bob.client.Decrypt(msgs[0])
	require.NoError(t, err)
	second, err := bob.client.Decrypt(msgs[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)
	assert.Equal(t, []byte("second"), second)

	convs := bob.client.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].UnreadCount)
}

func TestCloseWipesStoredIdentity(t *testing.T) {
	store := keystore.NewMemoryStore()
	opts := NewOptions()
	opts.UserID = "alice"
	opts.Store = store

	client, err := New(opts)
	require.NoError(t, err)

	before, err := client.PublicKey()
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// Teardown wiped the stored key: a fresh load cannot find the old
	// material and generates a new identity.
	regenerated, err := keystore.NewIdentity(store).GetOrCreate()
	require.NoError(t, err)
	assert.NotEqual(t, before, hex.EncodeToString(regenerated.Public[:]))
}

func TestSendWithoutRecipientKeyFails(t *testing.T) {
	r := relay.NewMemoryRelay()
	alice := newTestPeer(t, r, "alice")
	alice.client.Roster().SetMembers("conv-1", []string{"alice", "bob"})
	alice.connect(t)

	// bob's key was never cached: the send fails loudly instead of
	// silently dropping him from the recipient set.
	_, err := alice.client.SendMessage(context.Background(), "conv-1", protocol.ContentTypeText, []byte("hi"))
	require.Error(t, err)
}
