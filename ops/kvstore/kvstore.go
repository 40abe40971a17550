// Package kvstore implements the kv operation: get, set and delete on
// a namespace of the flow's shared datastore.
package kvstore

import (
	"context"
	"fmt"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "kv"

// Op performs a single datastore action per run.
type Op struct {
	operation.Base

	action    string
	namespace string
	key       string
	value     string
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Reads and writes the flow datastore",
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	action, err := operation.RequiredString(params, "action")
	if err != nil {
		return err
	}
	switch action {
	case "get", "set", "delete":
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	namespace, err := operation.RequiredString(params, "namespace")
	if err != nil {
		return err
	}
	key, err := operation.RequiredString(params, "key")
	if err != nil {
		return err
	}
	value := operation.StringOr(params, "value", "")
	if action == "set" && value == "" {
		return fmt.Errorf("param %q is required for set", "value")
	}

	o.Params = params
	o.action = action
	o.namespace = namespace
	o.key = key
	o.value = value
	return nil
}

// Run implements operation.Operation. A get of a missing key succeeds
// with an empty value, matching the datastore contract.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	if o.Datastore == nil {
		return operation.Kof("flow has no datastore configured")
	}

	switch o.action {
	case "get":
		value, err := o.Datastore.Get(o.namespace, o.key)
		if err != nil {
			return operation.Ko(fmt.Errorf("get %s/%s: %w", o.namespace, o.key, err))
		}
		return operation.Ok(map[string]any{"value": value})
	case "set":
		if err := o.Datastore.Set(o.namespace, o.key, o.value); err != nil {
			return operation.Ko(fmt.Errorf("set %s/%s: %w", o.namespace, o.key, err))
		}
	case "delete":
		if err := o.Datastore.Delete(o.namespace, o.key); err != nil {
			return operation.Ko(fmt.Errorf("delete %s/%s: %w", o.namespace, o.key, err))
		}
	}
	return operation.Ok(map[string]any{})
}
