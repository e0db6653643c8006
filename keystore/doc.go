// Package keystore owns the local identity key pair: the only place in
// veilchat with private-key access.
//
// The identity is generated once per account, persisted for the lifetime of
// the device installation, and reused thereafter. It is never rotated in v1
// and never silently regenerated: regenerating would invalidate every key
// wrap addressed to the old public key, so unreadable or corrupt key
// material surfaces as [ErrCorrupt] and the caller must treat the identity
// as lost.
//
// Storage goes through the [Store] interface with an explicit lifecycle
// rather than ambient global state. [FileStore] encrypts key material at
// rest with AES-256-GCM under a PBKDF2-derived key; [MemoryStore] is the
// test substitute.
//
//	store, err := keystore.NewFileStore(dataDir, passphrase)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	identity := keystore.NewIdentity(store)
//	keys, err := identity.GetOrCreate()
package keystore
