// Package action provides general-purpose plan functions for files, JSON
// documents, the environment and HTTP:
//
//	file.write(path, content) -> {path, bytes}
//	file.append(path, content) -> {path, bytes}
//	json.get(file, path) -> value
//	json.set(file, path, value) -> {file}
//	env.get(name, default?) -> string
//	http.request(url, method?, body?, headers?) -> {status_code, body, json?}
package action

import (
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/registry"
)

type functions struct {
	dir    string
	client *http.Client
	logger *zap.Logger
}

type Option func(*functions)

// WithDir resolves relative file paths against dir.
func WithDir(dir string) Option {
	return func(f *functions) { f.dir = dir }
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *functions) {
		if c != nil {
			f.client = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *functions) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Functions returns a registry holding every function of this package.
func Functions(opts ...Option) *registry.Registry {
	f := &functions{
		client: &http.Client{Timeout: 60 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("component", "action"))

	return registry.New().
		MustRegister("file.write", f.fileWrite).
		MustRegister("file.append", f.fileAppend).
		MustRegister("json.get", f.jsonGet).
		MustRegister("json.set", f.jsonSet).
		MustRegister("env.get", envGet).
		MustRegister("http.request", f.httpRequest)
}

func (f *functions) path(p string) string {
	if f.dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.dir, p)
}
