package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

func (f *functions) fileWrite(_ context.Context, args map[string]any) (any, error) {
	return f.writeFile(args, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
}

func (f *functions) fileAppend(_ context.Context, args map[string]any) (any, error) {
	return f.writeFile(args, os.O_CREATE|os.O_APPEND|os.O_WRONLY)
}

func (f *functions) writeFile(args map[string]any, flag int) (any, error) {
	if err := registry.Expect(args, "path", "content"); err != nil {
		return nil, err
	}
	path, err := registry.String(args, "path")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("argument path must not be empty")
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("argument content must be a string, got %T", args["content"])
	}

	full := f.path(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(full, flag, 0o644)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	n, err := file.WriteString(content)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("wrote file", zap.String("path", full), zap.Int("bytes", n))
	return map[string]any{"path": path, "bytes": n}, nil
}
