// Package provchain maintains a tamper-evident provenance chain for captured
// artifacts (camera frames). Every ingested artifact is hashed, linked to its
// predecessor, signed with the chain's ed25519 key and persisted, so any later
// modification of an artifact, an entry, or the entry order is detectable by
// replaying the chain.
//
// Three store backends are provided:
//
//  1. File storage (file_store.go) — append-only data file with protobuf-wire
//     framed records and a rename-committed tail state. Best for embedded
//     deployments with minimal moving parts.
//
//  2. SQLite storage (sqlite_store.go) — WAL-mode database with serializable
//     append transactions. Best when the chain should be queryable with SQL.
//
//  3. Badger storage (badger_store.go) — embedded key-value database with
//     atomic append transactions. Best for high ingest rates.
//
// Typical write path:
//
//	keys := provchain.NewKeyManager("keys")
//	pair, err := keys.EnsureKeypair()
//	store, err := provchain.OpenSQLiteStore("data/chain.db")
//	frames, err := provchain.NewDirArtifacts("data/frames")
//	builder, err := provchain.NewBuilder(store, frames, pair.Private, provchain.BuilderConfig{})
//	entry, err := builder.Ingest(frameBytes, "frame_000042.jpg")
//
// Typical verification path:
//
//	verifier, err := provchain.NewVerifier(store, frames, pair.Public, provchain.VerifierConfig{})
//	result, err := verifier.Verify(ctx, 0)
//	if !result.OK {
//	    // result.FailedAt / result.Reason pinpoint the first divergence
//	}
package provchain
