package store

import (
	"encoding/json"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"simple", "profiles/u1", "profiles/u1", false},
		{"surrounding slashes stripped", "/profiles/u1/", "profiles/u1", false},
		{"single segment", "profiles", "profiles", false},
		{"deep path", "invitations/u2/messages/m1", "invitations/u2/messages/m1", false},
		{"empty", "", "", true},
		{"only slashes", "///", "", true},
		{"empty segment", "profiles//u1", "", true},
		{"percent wildcard", "profiles/u%", "", true},
		{"underscore wildcard", "profiles/u_1", "", true},
		{"backslash escape", `profiles/u\1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizePath(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePath(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInsertAtBuildsNestedTree(t *testing.T) {
	tree := make(map[string]any)
	insertAt(tree, []string{"messages", "m1"}, []byte(`{"body":"hi"}`))
	insertAt(tree, []string{"messages", "m2"}, []byte(`{"body":"yo"}`))
	insertAt(tree, []string{"meta"}, []byte(`{"count":2}`))

	assembled, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshaling tree: %v", err)
	}

	var decoded struct {
		Messages map[string]struct {
			Body string `json:"body"`
		} `json:"messages"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(assembled, &decoded); err != nil {
		t.Fatalf("decoding assembled tree: %v", err)
	}
	if len(decoded.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(decoded.Messages))
	}
	if decoded.Messages["m1"].Body != "hi" || decoded.Messages["m2"].Body != "yo" {
		t.Errorf("leaf values lost in assembly: %+v", decoded.Messages)
	}
	if decoded.Meta.Count != 2 {
		t.Errorf("sibling leaf lost in assembly: %+v", decoded.Meta)
	}
}

func TestInsertAtLeafOverwrite(t *testing.T) {
	tree := make(map[string]any)
	insertAt(tree, []string{"m1"}, []byte(`{"v":1}`))
	insertAt(tree, []string{"m1"}, []byte(`{"v":2}`))

	raw, ok := tree["m1"].(json.RawMessage)
	if !ok {
		t.Fatalf("leaf has unexpected type %T", tree["m1"])
	}
	var leaf struct {
		V int `json:"v"`
	}
	if err := json.Unmarshal(raw, &leaf); err != nil || leaf.V != 2 {
		t.Errorf("later insert did not overwrite leaf: %s", raw)
	}
}
