package action

import (
	"context"
	"testing"
)

func call(t *testing.T, opts []Option, name string, args map[string]any) (any, error) {
	t.Helper()
	fn, err := Functions(opts...).Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	return fn(context.Background(), args)
}
