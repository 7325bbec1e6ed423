package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stevehiehn/taskdsl/internal/engine"
	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
	"github.com/stevehiehn/taskdsl/internal/plan"
	"github.com/stevehiehn/taskdsl/internal/registry"
)

type toolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

var (
	sourceProps = map[string]any{
		"file": map[string]any{"type": "string", "description": "Path to a plan YAML file"},
		"plan": map[string]any{"type": "string", "description": "Inline plan YAML"},
	}
	runProps = map[string]any{
		"file":     sourceProps["file"],
		"plan":     sourceProps["plan"],
		"context":  map[string]any{"type": "object", "description": "Seed variables"},
		"fixtures": map[string]any{"type": "object", "description": "Canned return values keyed by function name"},
	}
)

var builtinTools = []toolDef{
	{Name: "plan.validate", Description: "Check a plan's structure and expressions without running it",
		InputSchema: map[string]any{"type": "object", "properties": sourceProps}},
	{Name: "plan.explain", Description: "Describe the steps a plan would take",
		InputSchema: map[string]any{"type": "object", "properties": sourceProps}},
	{Name: "plan.run", Description: "Execute a plan; fixtures replace the named functions",
		InputSchema: map[string]any{"type": "object", "properties": runProps}},
	{Name: "plan.functions", Description: "List the functions plans may call",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}}},
	{Name: "plan.schema", Description: "Return the plan YAML schema",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}}},
}

// planTools describes every plan file in plansDir as a tool named after the
// file.
func (s *Server) planTools() []toolDef {
	var tools []toolDef
	for name, path := range s.planFiles() {
		p, err := plan.LoadFile(path)
		if err != nil {
			s.logger.Warn("skipping plan", zap.String("file", path), zap.Error(err))
			continue
		}
		desc := p.Description
		if desc == "" {
			desc = "Run the " + p.Task + " plan"
		}
		tools = append(tools, toolDef{
			Name:        name,
			Description: desc,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"context":  runProps["context"],
				"fixtures": runProps["fixtures"],
			}},
		})
	}
	sortTools(tools)
	return tools
}

func (s *Server) planFiles() map[string]string {
	files := map[string]string{}
	if s.plansDir == "" {
		return files
	}
	entries, err := os.ReadDir(s.plansDir)
	if err != nil {
		return files
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files[strings.TrimSuffix(e.Name(), ext)] = filepath.Join(s.plansDir, e.Name())
	}
	return files
}

func sortTools(tools []toolDef) {
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
}

func (s *Server) dispatch(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
		}}
	case "tools/list":
		all := append([]toolDef{}, builtinTools...)
		all = append(all, s.planTools()...)
		return &JSONRPCResponse{Result: map[string]any{"tools": all}}
	case "tools/call":
		return s.handleToolCall(ctx, req.Params)
	case "ping":
		return &JSONRPCResponse{Result: map[string]any{}}
	default:
		return &JSONRPCResponse{Error: &RPCError{Code: codeMethodNotFound, Message: "Method not found"}}
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolArgs struct {
	File     string         `json:"file"`
	Plan     string         `json:"plan"`
	Context  map[string]any `json:"context"`
	Fixtures map[string]any `json:"fixtures"`
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) *JSONRPCResponse {
	var tc toolCallParams
	if err := json.Unmarshal(params, &tc); err != nil {
		return &JSONRPCResponse{Error: &RPCError{Code: codeInvalidParams, Message: "Invalid params"}}
	}
	var args toolArgs
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return &JSONRPCResponse{Error: &RPCError{Code: codeInvalidParams, Message: "Invalid arguments: " + err.Error()}}
		}
	}

	switch tc.Name {
	case "plan.validate":
		return s.toolValidate(args)
	case "plan.explain":
		return s.toolExplain(args)
	case "plan.run":
		return s.toolRun(ctx, args)
	case "plan.functions":
		return &JSONRPCResponse{Result: toolContent(strings.Join(s.base.Names(), "\n"))}
	case "plan.schema":
		return &JSONRPCResponse{Result: toolContent(schemaText)}
	}

	path, ok := s.planFiles()[tc.Name]
	if !ok {
		return &JSONRPCResponse{Error: &RPCError{Code: codeInvalidParams, Message: "Unknown tool: " + tc.Name}}
	}
	args.File, args.Plan = path, ""
	return s.toolRun(ctx, args)
}

func (s *Server) loadPlan(args toolArgs) (*plan.Plan, error) {
	switch {
	case args.Plan != "":
		return plan.Load([]byte(args.Plan))
	case args.File != "":
		return plan.LoadFile(s.resolvePath(args.File))
	}
	return nil, errors.New(`one of "file" or "plan" is required`)
}

func (s *Server) toolValidate(args toolArgs) *JSONRPCResponse {
	p, err := s.loadPlan(args)
	if err != nil {
		return &JSONRPCResponse{Result: toolJSON(map[string]any{"valid": false, "errors": []any{structured(err)}}, true)}
	}
	issues := engine.Lint(p, s.base)
	if len(issues) > 0 {
		return &JSONRPCResponse{Result: toolJSON(map[string]any{"valid": false, "errors": issues}, true)}
	}
	return &JSONRPCResponse{Result: toolJSON(map[string]any{"valid": true}, false)}
}

func (s *Server) toolExplain(args toolArgs) *JSONRPCResponse {
	p, err := s.loadPlan(args)
	if err != nil {
		return &JSONRPCResponse{Result: toolError(err.Error())}
	}
	var b strings.Builder
	if err := plan.Outline(&b, p); err != nil {
		return &JSONRPCResponse{Result: toolError(err.Error())}
	}
	return &JSONRPCResponse{Result: toolContent(b.String())}
}

func (s *Server) toolRun(ctx context.Context, args toolArgs) *JSONRPCResponse {
	p, err := s.loadPlan(args)
	if err != nil {
		return &JSONRPCResponse{Result: toolError(err.Error())}
	}
	stub := registry.NewStub(normalize(args.Fixtures).(map[string]any))
	reg, err := stub.Registry(s.base)
	if err != nil {
		return &JSONRPCResponse{Result: toolError(err.Error())}
	}

	seed, _ := normalize(args.Context).(map[string]any)
	res, err := engine.New(reg, engine.WithLogger(s.logger)).Execute(ctx, p, seed)
	s.logger.Info("plan executed", zap.String("task", p.Task), zap.Bool("success", err == nil))
	return &JSONRPCResponse{Result: toolJSON(map[string]any{
		"result": res,
		"calls":  stub.Calls(),
	}, err != nil)}
}

// normalize turns whole JSON numbers back into ints so plans see the same
// values they would from YAML.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	}
	return v
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return normalize(t)
	}
	return v
}

func structured(err error) any {
	var pe *planerrors.Error
	if errors.As(err, &pe) {
		return pe
	}
	return map[string]any{"message": err.Error()}
}

func toolContent(text string) map[string]any {
	return map[string]any{"content": []map[string]any{{"type": "text", "text": text}}}
}

func toolError(text string) map[string]any {
	m := toolContent(text)
	m["isError"] = true
	return m
}

func toolJSON(v any, isError bool) map[string]any {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encoding result: %v", err))
	}
	if isError {
		return toolError(string(data))
	}
	return toolContent(string(data))
}

func (s *Server) resolvePath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(s.workDir, file)
}

const schemaText = `Plan YAML schema:
  task: string (required)
  description: string (optional)
  steps: list of steps (required, non-empty)

Each step is exactly one of:
  action:
    name: string (required)
    function: namespace.function (must be registered)
    arguments: mapping (values may contain {expression} placeholders)
    output_var: identifier (optional, binds the return value)
  condition:
    name: string (required)
    condition: expression (nested steps run when truthy)
    steps: list of steps (required)
  loop:
    name: string (required)
    loop:
      variable: identifier
      over: expression yielding a list
    steps: list of steps (required, run once per element in a fresh scope)

Expressions: names, literals, indexing, slicing, .attribute on mappings,
arithmetic, comparisons, and/or/not, ternaries, list and generator
comprehensions, and the helpers now, today, timedelta, strptime, strftime, abs,
len, any, all, contains, join, min, max, sum, sorted, range, str, int,
float, bool, round. A string that is a single {expression} keeps the
expression's value; {{ and }} are literal braces.`
