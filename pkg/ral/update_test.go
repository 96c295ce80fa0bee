package ral

import (
	"encoding/json"
	"testing"
)

func TestUpdateLookup(t *testing.T) {
	is := NewResource("x", Attrs{"a": "is-a", "b": "is-b"})
	should := NewResource("ignored", Attrs{"b": "should-b", "c": "should-c"})
	u := NewUpdate(is, should)

	if u.Name() != "x" || u.Should.Name != "x" {
		t.Fatalf("Name() = %q, should.Name = %q, want x", u.Name(), u.Should.Name)
	}

	tests := []struct {
		attr   string
		want   any
		wantOK bool
	}{
		{"a", "is-a", true},
		{"b", "should-b", true},
		{"c", "should-c", true},
		{"d", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			got, ok := u.Lookup(tt.attr)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.attr, got, ok, tt.want, tt.wantOK)
			}
			if u.Get(tt.attr) != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.attr, u.Get(tt.attr), tt.want)
			}
		})
	}
}

func TestUpdateChanged(t *testing.T) {
	tests := []struct {
		name   string
		is     Attrs
		should Attrs
		attr   string
		want   bool
	}{
		{"same scalar", Attrs{"a": "1"}, Attrs{"a": "1"}, "a", false},
		{"different scalar", Attrs{"a": "1"}, Attrs{"a": "2"}, "a", true},
		{"missing in should", Attrs{"a": "1"}, Attrs{}, "a", true},
		{"missing in both", Attrs{}, Attrs{}, "a", false},
		{"same sequence", Attrs{"l": []string{"x", "y"}}, Attrs{"l": []any{"x", "y"}}, "l", false},
		{"different sequence", Attrs{"l": []string{"x"}}, Attrs{"l": []any{"x", "y"}}, "l", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUpdate(NewResource("r", tt.is), NewResource("r", tt.should))
			if got := u.Changed(tt.attr); got != tt.want {
				t.Errorf("Changed(%q) = %v, want %v", tt.attr, got, tt.want)
			}
		})
	}
}

func TestUpdateResource(t *testing.T) {
	u := NewUpdate(
		NewResource("r", Attrs{"a": 1, "b": 2}),
		NewResource("r", Attrs{"b": 3}),
	)
	u.Record(Change{Attr: "b", Is: 4, Was: 2})

	got := u.Resource()
	want := NewResource("r", Attrs{"a": 1, "b": 4})
	if !got.Equal(want) {
		t.Errorf("Resource() = %s, want %s", got, want)
	}

	// Without changes the desired value wins over the current one.
	u.Changes = nil
	if got := u.Resource(); !got.Equal(NewResource("r", Attrs{"a": 1, "b": 3})) {
		t.Errorf("Resource() without changes = %s", got)
	}
}

func TestUpdateRecordReplaces(t *testing.T) {
	u := NewUpdate(NewResource("r", nil), NewResource("r", nil))
	u.Record(Change{Attr: "ensure", Is: "present", Was: "absent"})
	u.Record(Change{Attr: "ip", Is: "1.1.1.1"})
	u.Record(Change{Attr: "ensure", Is: "absent", Was: "present"})

	if len(u.Changes) != 2 {
		t.Fatalf("len(Changes) = %d, want 2", len(u.Changes))
	}
	if u.Changes[0].Is != "absent" {
		t.Errorf("Changes[0] = %s, want replaced ensure change", u.Changes[0])
	}
}

func TestChangeJSON(t *testing.T) {
	data, err := json.Marshal(Change{Attr: "ensure", Is: "present", Was: "absent"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"is":"present","was":"absent"}` {
		t.Errorf("Marshal() = %s", data)
	}
}
