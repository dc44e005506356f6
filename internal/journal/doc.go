// Package journal keeps a history of completed IRPs in SQLite.
//
// Journal is a smartcard.Observer. Completions are queued in a bounded
// buffer and written by a single background goroutine, so a slow disk
// never stalls the dispatcher; when the buffer is full the completion is
// dropped and counted.
//
// The journal is diagnostic only. Nothing reads it back to rebuild engine
// state.
package journal
