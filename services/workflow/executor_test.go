package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/pkg/expr"
)

func newTestContext(input map[string]any) (*ExecutionContext, *LogBuffer) {
	logs := NewLogBuffer(fixedClock)
	run := &ExecutionRun{ID: "exec-1", Trigger: TriggerManual, StartedAt: testTime, InputData: input}
	ec := NewExecutionContext(run, &Workflow{ID: 7, UserID: "user-1"}, logs, fixedClock)
	return ec, logs
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.Equal(t, []string{"action", "condition", "end", "http", "start"}, r.Types())

	_, ok := r.Lookup("email")
	assert.False(t, ok)

	require.Error(t, r.Register("", NewStartExecutor()))
	assert.Panics(t, func() { r.MustRegister("", NewStartExecutor()) })
}

func TestRegistry_ValidateNode(t *testing.T) {
	r := NewDefaultRegistry(nil)

	assert.NoError(t, r.ValidateNode(node("a", "action", map[string]any{"actionType": "delay", "durationMs": 10})))
	assert.NoError(t, r.ValidateNode(node("s", "start", nil)))
	assert.NoError(t, r.ValidateNode(node("x", "unregistered", map[string]any{"anything": true})))

	err := r.ValidateNode(node("a", "action", map[string]any{"durationMs": 10}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node a: invalid action config")
	assert.Contains(t, err.Error(), "actionType")

	err = r.ValidateNode(node("c", "condition", map[string]any{"conditions": []any{}}))
	require.Error(t, err)

	err = r.ValidateNode(node("h", "http", map[string]any{"url": "http://x", "method": "FETCH"}))
	require.Error(t, err)
}

type badSchemaExecutor struct{ *StartExecutor }

func (badSchemaExecutor) ConfigSchema() string { return `{"type": 12}` }

func TestRegistry_RejectsBadSchema(t *testing.T) {
	err := NewRegistry().Register("bad", badSchemaExecutor{NewStartExecutor()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile bad config schema")
}

func TestStartExecutor(t *testing.T) {
	ec, _ := newTestContext(map[string]any{"a": 1})
	n := node("start", "start", map[string]any{"initializeVariables": map[string]any{"count": 0, "label": "new"}})

	res := NewStartExecutor().Execute(context.Background(), n, ec, ec.InputData)

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Output["a"])
	assert.Equal(t, testTime.Format(time.RFC3339Nano), res.Output["startedAt"])
	assert.Equal(t, map[string]any{"count": float64(0), "label": "new"}, ec.Variables)
}

func TestActionExecutor_SetVariable(t *testing.T) {
	ec, _ := newTestContext(nil)
	input := map[string]any{"user": map[string]any{"name": "Ada"}}
	n := setVariableNode("set", "owner", "{{user.name}}")

	res := NewActionExecutor(nil).Execute(context.Background(), n, ec, input)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Ada", ec.Variables["owner"])
	assert.Equal(t, map[string]any{"name": "owner", "value": "Ada"}, res.Output["variableSet"])
	assert.NotContains(t, input, "variableSet")

	res = NewActionExecutor(nil).Execute(context.Background(), node("set", "action", map[string]any{"actionType": "set_variable"}), ec, input)
	assert.False(t, res.Success)
	assert.Equal(t, "set_variable requires a name", res.Error)
}

func TestActionExecutor_TransformData(t *testing.T) {
	ec, _ := newTestContext(nil)
	ec.Variables["region"] = "eu"
	input := map[string]any{"first": "Ada", "last": "Lovelace", "amount": 12, "tmp": true, "debug": 1}
	n := node("t", "action", map[string]any{
		"actionType": "transform_data",
		"transformations": []any{
			map[string]any{"type": "map", "mapping": map[string]any{"fullName": "{{first}} {{last}}", "zone": "{{region}}"}},
			map[string]any{"type": "map", "from": "amount", "to": "total"},
			map[string]any{"type": "filter", "condition": "{{total}} > 10"},
			map[string]any{"type": "add", "field": "status", "value": "new"},
			map[string]any{"type": "remove", "fields": []any{"tmp", "debug"}},
		},
	})

	res := NewActionExecutor(nil).Execute(context.Background(), n, ec, input)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Ada Lovelace", res.Output["fullName"])
	assert.Equal(t, "eu", res.Output["zone"])
	assert.Equal(t, 12, res.Output["total"])
	assert.Equal(t, "new", res.Output["status"])
	assert.NotContains(t, res.Output, "tmp")
	assert.NotContains(t, res.Output, "debug")
	assert.Contains(t, input, "tmp")
}

func TestActionExecutor_TransformFilterRejects(t *testing.T) {
	ec, _ := newTestContext(nil)
	n := node("t", "action", map[string]any{
		"actionType":      "transform_data",
		"transformations": []any{map[string]any{"type": "filter", "condition": "{{amount}} > 100"}},
	})

	res := NewActionExecutor(nil).Execute(context.Background(), n, ec, map[string]any{"amount": 5})

	assert.False(t, res.Success)
	assert.Equal(t, "filter condition not met: {{amount}} > 100", res.Error)
}

func TestActionExecutor_Delay(t *testing.T) {
	var slept time.Duration
	ex := NewActionExecutor(nil)
	ex.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	ec, _ := newTestContext(nil)

	res := ex.Execute(context.Background(), node("d", "action", map[string]any{"actionType": "delay", "duration": "1.5s"}), ec, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1500*time.Millisecond, slept)
	assert.Equal(t, int64(1500), res.Output["delayedMs"])

	res = ex.Execute(context.Background(), node("d", "action", map[string]any{"actionType": "delay", "durationMs": 250}), ec, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 250*time.Millisecond, slept)

	res = ex.Execute(context.Background(), node("d", "action", map[string]any{"actionType": "delay", "duration": "soon"}), ec, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid delay duration")
}

func TestActionExecutor_DelayInterrupted(t *testing.T) {
	ec, _ := newTestContext(nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.New("shutting down"))

	res := NewActionExecutor(nil).Execute(ctx, node("d", "action", map[string]any{"actionType": "delay", "durationMs": 60000}), ec, nil)

	assert.False(t, res.Success)
	assert.Equal(t, "delay interrupted: shutting down", res.Error)
}

func TestActionExecutor_LogMessage(t *testing.T) {
	ec, logs := newTestContext(nil)
	n := node("log", "action", map[string]any{
		"actionType": "log_message",
		"level":      "warn",
		"message":    "order {{orderId}} is late",
		"data":       map[string]any{"order": "{{orderId}}"},
	})

	res := NewActionExecutor(nil).Execute(context.Background(), n, ec, map[string]any{"orderId": "A-1"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "order A-1 is late", res.Output["logged"])
	require.Equal(t, 1, logs.Len())
	entry := logs.Entries()[0]
	assert.Equal(t, LevelWarn, entry.Level)
	assert.Equal(t, "log", entry.NodeID)
	assert.Equal(t, map[string]any{"order": "A-1"}, entry.Data)

	n.Data.Config["level"] = "trace"
	res = NewActionExecutor(nil).Execute(context.Background(), n, ec, nil)
	assert.False(t, res.Success)
}

func TestActionExecutor_Errors(t *testing.T) {
	ec, _ := newTestContext(nil)
	ex := NewActionExecutor(nil)

	res := ex.Execute(context.Background(), node("a", "action", nil), ec, nil)
	assert.Equal(t, "action node requires an actionType", res.Error)

	res = ex.Execute(context.Background(), node("a", "action", map[string]any{"actionType": "send_fax"}), ec, nil)
	assert.Equal(t, "unsupported action type: send_fax", res.Error)
}

func TestActionExecutor_HTTPRequest(t *testing.T) {
	var got struct {
		method string
		auth   string
		body   map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"lead-9"}`))
	}))
	defer srv.Close()

	ec, _ := newTestContext(nil)
	ec.Variables["token"] = "secret"
	n := node("call", "action", map[string]any{
		"actionType": "http_request",
		"url":        srv.URL + "/leads",
		"method":     "post",
		"headers":    map[string]any{"Authorization": "Bearer {{variables.token}}"},
		"body":       map[string]any{"email": "{{email}}", "score": "{{score}}"},
	})

	res := NewActionExecutor(srv.Client()).Execute(context.Background(), n, ec, map[string]any{"email": "a@b.c", "score": 70})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, map[string]any{"email": "a@b.c", "score": float64(70)}, got.body)

	resp := res.Output["response"].(map[string]any)
	assert.Equal(t, http.StatusCreated, resp["statusCode"])
	assert.Equal(t, map[string]any{"id": "lead-9"}, resp["body"])
}

func TestHTTPExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("plain text"))
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ec, _ := newTestContext(nil)
	ex := NewHTTPExecutor(srv.Client())

	res := ex.Execute(context.Background(), node("h", "http", map[string]any{"url": srv.URL + "/ok"}), ec, map[string]any{"keep": true})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, true, res.Output["keep"])
	assert.Equal(t, "plain text", res.Output["response"].(map[string]any)["body"])

	res = ex.Execute(context.Background(), node("h", "http", map[string]any{"url": srv.URL + "/fail"}), ec, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "request failed with status 502: nope", res.Error)

	res = ex.Execute(context.Background(), node("h", "http", map[string]any{"url": "{{missing}}"}), ec, nil)
	assert.Equal(t, "http request requires a url", res.Error)
}

func TestDoHTTPRequest_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := doHTTPRequest(context.Background(), srv.Client(), httpRequestConfig{URL: srv.URL}, expr.MapScope{})

	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "request failed with status 404", se.Error())
}

func TestDoHTTPRequest_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := maxResponseBody
		if r.URL.Path == "/big" {
			size++
		}
		_, _ = w.Write(bytes.Repeat([]byte("a"), size))
	}))
	defer srv.Close()

	out, err := doHTTPRequest(context.Background(), srv.Client(), httpRequestConfig{URL: srv.URL + "/fits"}, expr.MapScope{})
	require.NoError(t, err)
	assert.Len(t, out["body"], maxResponseBody)

	_, err = doHTTPRequest(context.Background(), srv.Client(), httpRequestConfig{URL: srv.URL + "/big"}, expr.MapScope{})
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("response body exceeds %d bytes", maxResponseBody), err.Error())
}

func conditionNode(conds ...map[string]any) Node {
	list := make([]any, len(conds))
	for i, c := range conds {
		list[i] = c
	}
	return node("cond", "condition", map[string]any{"conditions": list})
}

func TestConditionExecutor(t *testing.T) {
	tests := []struct {
		name      string
		cond      Node
		input     map[string]any
		vars      map[string]any
		wantNext  string
		wantPath  string
		wantError string
	}{
		{
			name: "field comparison matches",
			cond: conditionNode(
				map[string]any{"type": "field_comparison", "field": "temperature", "operator": "greater_than", "value": 25, "nextNodeId": "hot"},
				map[string]any{"type": "default", "nextNodeId": "mild"},
			),
			input:    map[string]any{"temperature": 30.5},
			wantNext: "hot",
		},
		{
			name: "falls through to default",
			cond: conditionNode(
				map[string]any{"type": "default", "nextPath": "other"},
				map[string]any{"type": "field_comparison", "field": "country", "operator": "in", "value": []any{"DE", "FR"}, "nextPath": "eu"},
			),
			input:    map[string]any{"country": "US"},
			wantPath: "other",
		},
		{
			name: "default listed first does not shadow a match",
			cond: conditionNode(
				map[string]any{"type": "default", "nextPath": "other"},
				map[string]any{"type": "field_comparison", "field": "country", "operator": "in", "value": "de, fr", "nextPath": "eu"},
			),
			input:    map[string]any{"country": "FR"},
			wantPath: "eu",
		},
		{
			name: "expression",
			cond: conditionNode(
				map[string]any{"type": "expression", "expression": "{{plan}} == 'pro' && {{seats}} >= 10", "nextPath": "enterprise"},
			),
			input:    map[string]any{"plan": "Pro", "seats": 12},
			wantPath: "enterprise",
		},
		{
			name: "variable equals",
			cond: conditionNode(
				map[string]any{"type": "variable", "variable": "stage", "value": "qualified", "nextNodeId": "sales"},
			),
			vars:     map[string]any{"stage": "qualified"},
			wantNext: "sales",
		},
		{
			name: "field reference in value",
			cond: conditionNode(
				map[string]any{"type": "field_comparison", "field": "score", "operator": "gte", "value": "{{variables.threshold}}", "nextPath": "pass"},
			),
			input:    map[string]any{"score": 50},
			vars:     map[string]any{"threshold": 50},
			wantPath: "pass",
		},
		{
			name: "nothing matches",
			cond: conditionNode(
				map[string]any{"type": "field_comparison", "field": "missing", "operator": "equals", "value": "x", "nextPath": "x"},
			),
			wantError: "No conditions met and no default path defined",
		},
		{
			name: "bad expression",
			cond: conditionNode(
				map[string]any{"type": "expression", "expression": "{{a}} >", "nextPath": "x"},
			),
			wantError: "condition 0 (expression)",
		},
		{
			name:      "unsupported type",
			cond:      conditionNode(map[string]any{"type": "astrology"}),
			wantError: "unsupported condition type: astrology",
		},
		{
			name:      "empty list",
			cond:      node("cond", "condition", map[string]any{"conditions": []any{}}),
			wantError: "condition node requires at least one condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec, _ := newTestContext(nil)
			for k, v := range tt.vars {
				ec.Variables[k] = v
			}

			res := NewConditionExecutor().Execute(context.Background(), tt.cond, ec, tt.input)

			if tt.wantError != "" {
				assert.False(t, res.Success)
				assert.Contains(t, res.Error, tt.wantError)
				return
			}
			require.True(t, res.Success, res.Error)
			assert.Equal(t, tt.wantNext, res.NextNodeID)
			assert.Equal(t, tt.wantPath, res.NextPath)
			assert.Contains(t, res.Output, "conditionResult")
		})
	}
}

func TestConditionExecutor_Time(t *testing.T) {
	// Saturday 2026-03-14 09:30 UTC.
	ex := NewConditionExecutor()
	ex.now = fixedClock

	tests := []struct {
		name string
		cond map[string]any
		want bool
	}{
		{"inside window", map[string]any{"after": "09:00", "before": "17:00"}, true},
		{"outside window", map[string]any{"after": "10:00", "before": "17:00"}, false},
		{"window wraps midnight", map[string]any{"after": "22:00", "before": "10:00"}, true},
		{"weekend days", map[string]any{"days": []any{"Saturday", "sun"}}, true},
		{"weekdays", map[string]any{"days": []any{"mon", "tue", "wed", "thu", "fri"}}, false},
		{"date range inclusive end", map[string]any{"startDate": "2026-03-01", "endDate": "2026-03-14"}, true},
		{"before start date", map[string]any{"startDate": "2026-04-01"}, false},
		{"timezone shifts the clock", map[string]any{"after": "18:00", "before": "19:00", "timezone": "Asia/Tokyo"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := map[string]any{"type": "time", "nextPath": "match"}
			for k, v := range tt.cond {
				cond[k] = v
			}
			cond2 := map[string]any{"type": "default", "nextPath": "nomatch"}
			ec, _ := newTestContext(nil)

			res := ex.Execute(context.Background(), conditionNode(cond, cond2), ec, nil)

			require.True(t, res.Success, res.Error)
			if tt.want {
				assert.Equal(t, "match", res.NextPath)
			} else {
				assert.Equal(t, "nomatch", res.NextPath)
			}
		})
	}

	ec, _ := newTestContext(nil)
	res := ex.Execute(context.Background(), conditionNode(map[string]any{"type": "time", "after": "9am"}), ec, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid time of day")
}

func TestConditionExecutor_Custom(t *testing.T) {
	ex := NewConditionExecutor()
	ex.RegisterCustom("vip", func(_ context.Context, _ ConditionSpec, scope expr.Scope) (bool, error) {
		v, _ := scope.Lookup("lifetimeValue")
		f, _ := expr.ToFloat64(v)
		return f > 1000, nil
	})
	ec, _ := newTestContext(nil)
	n := conditionNode(
		map[string]any{"type": "custom", "custom": "vip", "nextPath": "vip"},
		map[string]any{"type": "default", "nextPath": "std"},
	)

	res := ex.Execute(context.Background(), n, ec, map[string]any{"lifetimeValue": 5000})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "vip", res.NextPath)

	res = ex.Execute(context.Background(), conditionNode(map[string]any{"type": "custom", "custom": "unknown"}), ec, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `custom condition "unknown" is not registered`)
}

func TestEndExecutor(t *testing.T) {
	ec, logs := newTestContext(nil)
	ec.Variables["owner"] = "Ada"
	ec.NodeStates["start"] = Succeed(nil)
	ec.visits = 2
	n := node("end", "end", map[string]any{
		"finalizeVariables": map[string]any{"assignedTo": "{{variables.owner}}"},
		"cleanup": map[string]any{
			"logSummary":     true,
			"notify":         true,
			"channel":        "sales",
			"message":        "Lead assigned to {{variables.owner}}",
			"clearVariables": true,
		},
	})

	res := NewEndExecutor().Execute(context.Background(), n, ec, map[string]any{"lead": 1})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Ada", res.Output["assignedTo"])
	assert.Equal(t, 1, res.Output["lead"])
	assert.Equal(t, testTime.Format(time.RFC3339Nano), res.Output["completedAt"])
	assert.Equal(t, int64(0), res.Output["durationMs"])
	assert.Empty(t, ec.Variables)

	require.Equal(t, 1, logs.Len())
	summary := logs.Entries()[0]
	assert.Equal(t, "Workflow summary", summary.Message)
	assert.Equal(t, 2, summary.Data["nodesExecuted"])
	assert.Equal(t, map[string]any{"owner": "Ada"}, summary.Data["variables"])

	require.Len(t, ec.Notifications(), 1)
	note := ec.Notifications()[0]
	assert.Equal(t, "exec-1", note.ExecutionID)
	assert.Equal(t, int64(7), note.WorkflowID)
	assert.Equal(t, "user-1", note.UserID)
	assert.Equal(t, "sales", note.Channel)
	assert.Equal(t, "Lead assigned to Ada", note.Message)
}

func TestEndExecutor_DefaultNotification(t *testing.T) {
	ec, _ := newTestContext(nil)
	n := node("end", "end", map[string]any{"cleanup": map[string]any{"notify": true}})

	res := NewEndExecutor().Execute(context.Background(), n, ec, nil)

	require.True(t, res.Success)
	require.Len(t, ec.Notifications(), 1)
	assert.Equal(t, "Workflow completed", ec.Notifications()[0].Message)
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		op       string
		actual   any
		expected any
		want     bool
	}{
		{"equals", "ACTIVE", "active", true},
		{"equals", 10, "10", true},
		{"not_equals", "a", "b", true},
		{"greater_than", 30.5, 25, true},
		{"less_than", 3, 25, true},
		{"lt", nil, 25, false},
		{">=", 25, 25.0, true},
		{"<=", "2", "10", true},
		{"contains", "Hello World", "world", true},
		{"contains", []any{"a", "b"}, "b", true},
		{"contains", nil, "b", false},
		{"starts_with", "Acme Corp", "acme", true},
		{"ends_with", "report.PDF", ".pdf", true},
		{"in", "fr", []any{"DE", "FR"}, true},
		{"in", "us", "de,fr", false},
		{"is_empty", "", nil, true},
		{"is_empty", []any{}, nil, true},
		{"is_not_empty", "x", nil, true},
	}

	for _, tt := range tests {
		got, err := compareValues(tt.op, tt.actual, tt.expected)
		require.NoError(t, err, tt.op)
		assert.Equal(t, tt.want, got, "%s %v %v", tt.op, tt.actual, tt.expected)
	}

	_, err := compareValues("resembles", 1, 2)
	assert.Error(t, err)
	_, err = compareValues("in", 1, 2)
	assert.Error(t, err)
}
