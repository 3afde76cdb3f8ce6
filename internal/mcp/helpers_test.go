package mcp

import (
	"reflect"
	"testing"
)

func TestGetStringArg(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]interface{}
		expected string
	}{
		{"string value", map[string]interface{}{"key": "value"}, "value"},
		{"trimmed", map[string]interface{}{"key": "  s-1 "}, "s-1"},
		{"missing key", map[string]interface{}{"other": "value"}, ""},
		{"int converted", map[string]interface{}{"key": 123}, "123"},
		{"nil value", map[string]interface{}{"key": nil}, ""},
		{"nil map", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getStringArg(tt.args, "key"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestGetIntArg(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]interface{}
		expected int
	}{
		{"int value", map[string]interface{}{"key": 42}, 42},
		{"int64 value", map[string]interface{}{"key": int64(100)}, 100},
		{"float64 truncated", map[string]interface{}{"key": 3.9}, 3},
		{"missing key uses fallback", map[string]interface{}{}, 7},
		{"string uses fallback", map[string]interface{}{"key": "ten"}, 7},
		{"nil map uses fallback", nil, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getIntArg(tt.args, "key", 7); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestGetBoolArg(t *testing.T) {
	if !getBoolArg(map[string]interface{}{"key": true}, "key", false) {
		t.Error("expected true")
	}
	if getBoolArg(map[string]interface{}{"key": false}, "key", true) {
		t.Error("expected false")
	}
	if !getBoolArg(nil, "key", true) {
		t.Error("missing key should use fallback")
	}
	if getBoolArg(map[string]interface{}{"key": "true"}, "key", false) {
		t.Error("non-bool should use fallback")
	}
}

func TestGetFloatArg(t *testing.T) {
	tests := []struct {
		name  string
		val   interface{}
		want  float64
		found bool
	}{
		{"float", 150.5, 150.5, true},
		{"int", 12, 12, true},
		{"numeric string", "99.5", 99.5, true},
		{"zero is a value", 0.0, 0, true},
		{"junk string", "left", 0, false},
		{"bool rejected", true, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := getFloatArg(map[string]interface{}{"x": tt.val}, "x")
			if ok != tt.found || got != tt.want {
				t.Errorf("getFloatArg(%v) = (%v, %v), want (%v, %v)", tt.val, got, ok, tt.want, tt.found)
			}
		})
	}
	if _, ok := getFloatArg(map[string]interface{}{}, "x"); ok {
		t.Error("missing key must not be found")
	}
}

func TestGetStringSliceArg(t *testing.T) {
	tests := []struct {
		name string
		val  interface{}
		want []string
	}{
		{"json array", []interface{}{"src/...", " app "}, []string{"src/...", "app"}},
		{"string slice", []string{"a", ""}, []string{"a"}},
		{"comma string", "src, lib/...", []string{"src", "lib/..."}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := getStringSliceArg(map[string]interface{}{"paths": tt.val}, "paths")
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArgStringAndAsInt(t *testing.T) {
	if argString([]string{"s-1", "s-2"}) != "s-1" {
		t.Error("expected first element of a template argument list")
	}
	if argString(nil) != "" {
		t.Error("nil should be empty")
	}
	if asInt(" 40 ") != 40 || asInt(12.7) != 12 || asInt("x") != 0 {
		t.Error("unexpected asInt conversions")
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
		anon map[string]string
	}{
		{"", "", nil},
		{"unresolved(Id, File)", "unresolved(Id, File).", map[string]string{}},
		{"  navigated(Id, T).  ", "navigated(Id, T).", map[string]string{}},
		{
			"inspected(_, F, _, _, \"none\")",
			"inspected(AnonVar0, F, AnonVar1, AnonVar2, \"none\").",
			map[string]string{"AnonVar0": "_0", "AnonVar1": "_1", "AnonVar2": "_2"},
		},
		{"blocked(Id,_)", "blocked(Id,AnonVar0).", map[string]string{"AnonVar0": "_0"}},
		{"ancestor(Id, _Rank, N, T)", "ancestor(Id, _Rank, N, T).", map[string]string{}},
	}
	for _, tt := range tests {
		got, anon := normalizeQuery(tt.in)
		if got != tt.want {
			t.Errorf("normalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(anon) != len(tt.anon) || (len(anon) > 0 && !reflect.DeepEqual(anon, tt.anon)) {
			t.Errorf("normalizeQuery(%q) anon = %v, want %v", tt.in, anon, tt.anon)
		}
	}
}
