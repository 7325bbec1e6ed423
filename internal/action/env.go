package action

import (
	"context"
	"fmt"
	"os"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

func envGet(_ context.Context, args map[string]any) (any, error) {
	if err := registry.Expect(args, "name", "default?"); err != nil {
		return nil, err
	}
	name, err := registry.String(args, "name")
	if err != nil {
		return nil, err
	}
	if val, ok := os.LookupEnv(name); ok {
		return val, nil
	}
	if _, ok := args["default"]; ok {
		return args["default"], nil
	}
	return nil, fmt.Errorf("environment variable %q not set", name)
}
