// Package veilchat implements the client core of a privacy-first encrypted
// chat system. All message content is end-to-end encrypted on the sending
// device and decrypted only on recipient devices; the relay server stores
// and routes opaque ciphertext envelopes.
//
// The package ties four subsystems together: the key store (encrypted
// identity keys at rest), the crypto engine (per-message hybrid
// encryption), the transport manager (push socket with poll fallback), and
// the message lifecycle coordinator (status, deletion, typing, and
// conversation projections).
//
// Example:
//
//	opts := veilchat.NewOptions()
//	opts.UserID = "alice"
//	opts.RelayURL = "https://relay.example.com"
//	opts.WebSocketURL = "wss://relay.example.com/ws"
//	opts.KeyStoreDir = "/home/alice/.veilchat"
//	opts.Passphrase = []byte("correct horse battery staple")
//
//	client, err := veilchat.New(opts)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnMessage(func(msg *lifecycle.Message, plaintext []byte) {
//		fmt.Printf("[%s] %s: %s\n", msg.ConversationID, msg.SenderID, plaintext)
//	})
//	client.Connect(context.Background())
package veilchat
