package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// serveLines runs the stdio loop over the given request lines and returns
// the decoded responses in order.
func serveLines(t *testing.T, s *Server, lines ...string) []JSONRPCResponse {
	t.Helper()
	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var resps []JSONRPCResponse
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var r JSONRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("bad response line %q: %v", scanner.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

func TestStdioSession(t *testing.T) {
	runArgs, _ := json.Marshal(map[string]any{
		"name": "plan.run",
		"arguments": map[string]any{
			"plan": allocatePlan,
			"fixtures": map[string]any{
				"customer_order.get_pending_orders": []any{},
				"inventory.allocate_stock":          nil,
			},
		},
	})

	resps := serveLines(t, NewServer(),
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{not json`,
		`{"jsonrpc":"2.0","id":"call-3","method":"tools/call","params":`+string(runArgs)+`}`,
	)

	if len(resps) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(resps))
	}
	if resps[0].ID != float64(1) || resps[0].Error != nil {
		t.Errorf("unexpected initialize response %+v", resps[0])
	}
	if resps[1].ID != float64(2) {
		t.Errorf("unexpected tools/list id %v", resps[1].ID)
	}
	if resps[2].Error == nil || resps[2].Error.Code != -32700 {
		t.Errorf("expected parse error, got %+v", resps[2])
	}
	if resps[3].ID != "call-3" {
		t.Errorf("unexpected call id %v", resps[3].ID)
	}

	data, _ := json.Marshal(resps[3].Result)
	if !strings.Contains(string(data), `\"success\": true`) {
		t.Errorf("expected successful empty run, got %s", data)
	}
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := NewServer().Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	if err == nil {
		t.Fatal("expected context error")
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %s", out.String())
	}
}

func TestStdioNeverAnswersRequestsWithoutID(t *testing.T) {
	resps := serveLines(t, NewServer(),
		`{"jsonrpc":"2.0","method":"ping"}`,
		`{"jsonrpc":"2.0","method":"tools/list"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{}}`,
		`{"jsonrpc":"2.0","id":5,"method":"ping"}`,
	)
	if len(resps) != 1 {
		t.Fatalf("expected only the request with an id to be answered, got %d responses", len(resps))
	}
	if resps[0].ID != float64(5) {
		t.Errorf("unexpected response id %v", resps[0].ID)
	}
}
