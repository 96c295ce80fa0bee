package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/ral/pkg/ral"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{
			name: "resources",
			v: &ResourcesResponse{Resources: []ral.Resource{
				ral.NewResource("test", ral.Attrs{"ensure": "absent"}),
			}},
			want: `{"resources":[{"ensure":"absent","name":"test"}]}`,
		},
		{
			name: "error without kind",
			v:    &ErrorResponse{Error: ErrorBody{Message: "Unknown action bogus"}},
			want: `{"error":{"message":"Unknown action bogus"}}`,
		},
		{
			name: "error with kind",
			v:    &ErrorResponse{Error: ErrorBody{Message: "not found", Kind: "unknown"}},
			want: `{"error":{"message":"not found","kind":"unknown"}}`,
		},
		{
			name: "set response",
			v: &SetResponse{Changes: []ChangeEntry{{
				Name:    "web",
				Changes: map[string]ChangeValue{"ensure": {Is: "present", Was: "absent"}},
			}}},
			want: `{"derive":false,"changes":[{"ensure":{"is":"present","was":"absent"},"name":"web"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).Encode(tt.v); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if buf.String() != tt.want+"\n" {
				t.Errorf("Encode() = %q, want %q", buf.String(), tt.want+"\n")
			}
		})
	}
}

func TestEncoderError(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(map[string]any{"bad": make(chan int)}); err == nil {
		t.Error("Encode() accepted an unencodable value")
	}
	if buf.Len() != 0 {
		t.Errorf("Encode() wrote %q after failing", buf.String())
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		check   func(t *testing.T, req *SetRequest)
	}{
		{
			name: "multi-line document",
			input: `{
  "updates": [{"name": "web", "is": {"ensure": "absent"}, "should": {"name": "web", "ensure": "present"}}],
  "ral": {"noop": true}
}`,
			check: func(t *testing.T, req *SetRequest) {
				if !req.Ral.Noop || len(req.Updates) != 1 {
					t.Fatalf("request = %+v", req)
				}
				upd := req.Updates[0].Update()
				if upd.Name() != "web" || upd.Should.Name != "web" {
					t.Errorf("update names = %q, %q", upd.Name(), upd.Should.Name)
				}
				if _, ok := upd.Should.Attrs[ral.NameAttr]; ok {
					t.Error("name leaked into should attributes")
				}
				if !upd.Changed("ensure") {
					t.Error("ensure not reported as changed")
				}
			},
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrNoInput,
		},
		{
			name:  "malformed",
			input: `{"updates": [`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req SetRequest
			err := NewDecoder(strings.NewReader(tt.input)).Decode(&req)
			switch {
			case tt.check != nil:
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				tt.check(t, &req)
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
				}
			default:
				if err == nil || errors.Is(err, ErrNoInput) {
					t.Errorf("Decode() error = %v, want a parse error", err)
				}
			}
		})
	}
}

func TestChangeEntryUnmarshal(t *testing.T) {
	var resp SetResponse
	data := `{"derive":true,"changes":[{"name":"db","ip":{"is":"10.0.0.2","was":"10.0.0.1"}}]}`
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !resp.Derive || len(resp.Changes) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	e := resp.Changes[0]
	if e.Name != "db" || e.Changes["ip"] != (ChangeValue{Is: "10.0.0.2", Was: "10.0.0.1"}) {
		t.Errorf("entry = %+v", e)
	}

	if err := json.Unmarshal([]byte(`{"changes":[{"ip":{}}]}`), &resp); err == nil {
		t.Error("entry without a name accepted")
	}
}

func TestActionFromArgs(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		want   Action
		wantOK bool
	}{
		{name: "none", args: nil},
		{name: "other tokens", args: []string{"-v", "get"}},
		{name: "get", args: []string{"ral_action=get"}, want: ActionGet, wantOK: true},
		{name: "first wins", args: []string{"x", "ral_action=bogus", "ral_action=get"}, want: "bogus", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ActionFromArgs(tt.args)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ActionFromArgs() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestActionValidate(t *testing.T) {
	for _, a := range Actions {
		if err := a.Validate(); err != nil {
			t.Errorf("%s.Validate() error = %v", a, err)
		}
	}
	if err := Action("bogus").Validate(); err == nil {
		t.Error("bogus action validated")
	}
	if ActionList.Arg() != "ral_action=list" {
		t.Errorf("Arg() = %q", ActionList.Arg())
	}
}
