package profile

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/mealex/peerdir/internal/store"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
)

func seedProfile(t *testing.T, s store.Store, id string, rec Record) {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("encoding profile %s: %v", id, err)
	}
	if err := s.Write(context.Background(), Path(id), raw); err != nil {
		t.Fatalf("seeding profile %s: %v", id, err)
	}
}

func TestGet(t *testing.T) {
	mem := store.NewMemory()
	repo := NewRepository(mem)
	seedProfile(t, mem, "u1", Record{Name: "Ada", Major: "CS"})

	rec, err := repo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.ID != "u1" {
		t.Errorf("id not stamped from path: %q", rec.ID)
	}
	if rec.Name != "Ada" || rec.Major != "CS" {
		t.Errorf("record = %+v", rec)
	}

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("missing profile: got %v, want ErrNotFound", err)
	}
}

func TestAll(t *testing.T) {
	mem := store.NewMemory()
	repo := NewRepository(mem)
	seedProfile(t, mem, "u1", Record{Name: "Ada"})
	seedProfile(t, mem, "u2", Record{Name: "Grace"})

	records, err := repo.All(context.Background())
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records["u1"].ID != "u1" || records["u2"].ID != "u2" {
		t.Error("ids not stamped onto listed records")
	}
}

func TestAllEmptyStore(t *testing.T) {
	repo := NewRepository(store.NewMemory())
	records, err := repo.All(context.Background())
	if err != nil {
		t.Fatalf("all on empty store failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty map, got %v", records)
	}
}

func TestGetManyKeepsIDOrderAndDropsAbsent(t *testing.T) {
	mem := store.NewMemory()
	repo := NewRepository(mem)
	seedProfile(t, mem, "u1", Record{Name: "Ada"})
	seedProfile(t, mem, "u3", Record{Name: "Grace"})

	records, err := repo.GetMany(context.Background(), []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("getMany failed: %v", err)
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if !reflect.DeepEqual(ids, []string{"u1", "u3"}) {
		t.Errorf("ids = %v, want [u1 u3]", ids)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	mem := store.NewMemory()
	repo := NewRepository(mem)
	seedProfile(t, mem, "u1", Record{Name: "Ada", Major: "CS", Bio: "hi"})

	if err := repo.Update(context.Background(), "u1", json.RawMessage(`{"major":"Math"}`)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rec, err := repo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if rec.Major != "Math" {
		t.Errorf("major = %q, want Math", rec.Major)
	}
	if rec.Name != "Ada" || rec.Bio != "hi" {
		t.Errorf("update clobbered untouched fields: %+v", rec)
	}
}

func TestValidateUpdate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"major":"CS"}`, false},
		{"strips uid and keeps rest", `{"uid":"u1","bio":"hi"}`, false},
		{"not an object", `"major"`, true},
		{"empty object", `{}`, true},
		{"only stripped fields", `{"uid":"u1","id":"u1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaned, err := ValidateUpdate([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, pkgerrors.ErrInvalidInput) {
					t.Errorf("got %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validate failed: %v", err)
			}
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(cleaned, &fields); err != nil {
				t.Fatalf("cleaned body not valid JSON: %v", err)
			}
			if _, ok := fields["uid"]; ok {
				t.Error("uid survived validation")
			}
		})
	}
}

func TestSortedIDs(t *testing.T) {
	ids := SortedIDs(map[string]Record{"b": {}, "a": {}, "c": {}})
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("ids = %v, want sorted", ids)
	}
}
