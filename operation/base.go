package operation

import "github.com/c360studio/flowrunner/store"

// Base carries the state shared by concrete operations: the params kept
// by Validate and the optional shared datastore. Embed it and implement
// Metadata, Validate and Run.
type Base struct {
	Params    map[string]any
	Datastore store.Store
}

// SetDatastore implements Operation.
func (b *Base) SetDatastore(s store.Store) { b.Datastore = s }
