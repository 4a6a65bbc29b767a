package core_test

import (
	"testing"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// ============================================================================
// Test: value canonicalization
// ============================================================================

func TestCanonicalValue_Scalars(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{nil, "null"},
		{true, "true"},
		{false, "false"},
		{int64(0), "0"},
		{int64(-42), "-42"},
		{int(7), "7"},
		{"hi", "s:2:hi"},
		{"", "s:0:"},
		{"a=b;c", "s:5:a=b;c"},
		{num.MustParse("100.00"), "100"},
	}
	for _, tc := range cases {
		got, err := core.CanonicalValue(tc.value)
		if err != nil {
			t.Errorf("CanonicalValue(%v) failed: %v", tc.value, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CanonicalValue(%v): got %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestCanonicalValue_MapOrderIndependent(t *testing.T) {
	a := map[string]any{"x": int64(1), "y": int64(2)}
	b := map[string]any{"y": int64(2), "x": int64(1)}

	ca, err := core.CanonicalValue(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := core.CanonicalValue(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca != cb {
		t.Errorf("insertion order leaked into canonical form: %q vs %q", ca, cb)
	}
}

func TestCanonicalValue_Nested(t *testing.T) {
	v := map[string]any{
		"list": []any{int64(1), "two", num.MustParse("3.0")},
		"sub":  map[string]any{"k": nil},
	}
	got, err := core.CanonicalValue(v)
	if err != nil {
		t.Fatal(err)
	}
	want := "{s:4:list=[1,s:3:two,3];s:3:sub={s:1:k=null}}"
	if got != want {
		t.Errorf("nested canonical form:\n got %q\nwant %q", got, want)
	}
}

func TestCanonicalValue_RejectsUnsupported(t *testing.T) {
	if _, err := core.CanonicalValue(3.14); err == nil {
		t.Error("float64 should be rejected")
	}
	if _, err := core.CanonicalValue(map[string]any{"f": []byte("x")}); err == nil {
		t.Error("[]byte should be rejected")
	}
}

func TestCanonicalState_NilVsEmpty(t *testing.T) {
	cNil, _ := core.CanonicalState(nil)
	cEmpty, _ := core.CanonicalState(core.UnitState{})
	if cNil == cEmpty {
		t.Errorf("nil and empty state must canonicalize differently: both %q", cNil)
	}
}

// ============================================================================
// Test: state copying
// ============================================================================

func TestCopyState_Independent(t *testing.T) {
	original := core.UnitState{
		"n":    int64(1),
		"list": []any{int64(1)},
		"sub":  map[string]any{"k": "v"},
	}
	copied := core.CopyState(original)

	copied["n"] = int64(2)
	copied["list"].([]any)[0] = int64(9)
	copied["sub"].(map[string]any)["k"] = "changed"

	if original["n"].(int64) != 1 {
		t.Error("scalar mutation leaked into original")
	}
	if original["list"].([]any)[0].(int64) != 1 {
		t.Error("list mutation leaked into original")
	}
	if original["sub"].(map[string]any)["k"].(string) != "v" {
		t.Error("nested map mutation leaked into original")
	}
}

func TestStateEqual(t *testing.T) {
	a := core.UnitState{"x": num.MustParse("1.50"), "y": int64(2)}
	b := core.UnitState{"y": int64(2), "x": num.MustParse("1.5")}
	if !core.StateEqual(a, b) {
		t.Error("states equal up to representation should compare equal")
	}
	c := core.UnitState{"x": num.MustParse("1.51"), "y": int64(2)}
	if core.StateEqual(a, c) {
		t.Error("different states should not compare equal")
	}
}
