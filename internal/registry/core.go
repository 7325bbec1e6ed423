package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/expr"
)

// Core returns the side-effect free functions every registry carries:
//
//	message.write_message(message) -> {status, message}
func Core(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "message"))

	r := New()
	r.MustRegister("message.write_message", func(_ context.Context, args map[string]any) (any, error) {
		if err := Expect(args, "message"); err != nil {
			return nil, err
		}
		msg, ok := args["message"].(string)
		if !ok {
			msg = expr.Format(args["message"])
		}
		logger.Info("message", zap.String("message", msg))
		return map[string]any{"status": "success", "message": msg}, nil
	})
	return r
}
