package params

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Set("/num_envs", 4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.Has("num_envs") {
		t.Error("leading slash should be optional")
	}

	n, err := GetInt(s, "num_envs")
	if err != nil || n != 4 {
		t.Errorf("GetInt = (%d, %v), want 4", n, err)
	}

	if _, err := s.Get("/missing"); errors.Cause(err) != ErrNotFound {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Set("/", 1); err == nil {
		t.Error("expected error for empty key")
	}

	if err := s.Delete("num_envs"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("num_envs"); errors.Cause(err) != ErrNotFound {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestTypedGetters(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Set("int", 3)
	_ = s.Set("whole", 3.0)
	_ = s.Set("frac", 2.5)
	_ = s.Set("inf", math.Inf(1))
	_ = s.Set("str", "cellular")
	_ = s.Set("pair", []any{-0.5, 2})
	_ = s.Set("triple", []any{1.0, 2.0, 3.0})

	tests := []struct {
		name    string
		get     func() (any, error)
		want    any
		wantErr error
	}{
		{"int", func() (any, error) { return GetInt(s, "int") }, 3, nil},
		{"whole float as int", func() (any, error) { return GetInt(s, "whole") }, 3, nil},
		{"fraction as int", func() (any, error) { return GetInt(s, "frac") }, 0, ErrWrongType},
		{"string as int", func() (any, error) { return GetInt(s, "str") }, 0, ErrWrongType},
		{"int as float", func() (any, error) { return GetFloat(s, "int") }, 3.0, nil},
		{"inf", func() (any, error) { return GetFloat(s, "inf") }, math.Inf(1), nil},
		{"string", func() (any, error) { return GetString(s, "str") }, "cellular", nil},
		{"pair", func() (any, error) { return GetFloatPair(s, "pair") }, [2]float64{-0.5, 2}, nil},
		{"triple as pair", func() (any, error) { return GetFloatPair(s, "triple") }, [2]float64{}, ErrWrongType},
		{"missing", func() (any, error) { return GetFloat(s, "nope") }, 0.0, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.get()
			if errors.Cause(err) != tt.wantErr {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if got := IntOr(s, "nope", 7); got != 7 {
		t.Errorf("IntOr fallback = %d, want 7", got)
	}
	if got := FloatOr(s, "frac", 0); got != 2.5 {
		t.Errorf("FloatOr = %v, want 2.5", got)
	}
	if got := StringOr(s, "int", "x"); got != "x" {
		t.Errorf("StringOr on wrong type = %q, want fallback", got)
	}
}

func TestNamespace(t *testing.T) {
	ns := Namespace("map_generator")
	if got := ns("episode_per_map"); got != "/map_generator/episode_per_map" {
		t.Errorf("ns = %q", got)
	}
	if got := ns("algorithm_config", "fill"); got != "/map_generator/algorithm_config/fill" {
		t.Errorf("nested ns = %q", got)
	}
}

func TestFromYAML(t *testing.T) {
	doc := []byte(`
num_envs: 2
actions:
  continuous:
    linear_range: [-0.5, 1.0]
    angular_range: [-1.5, 1.5]
map_generator:
  episode_per_map: 3
  algorithm: barn
`)
	s, err := FromYAML(doc)
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}

	if got := IntOr(s, "/num_envs", 0); got != 2 {
		t.Errorf("num_envs = %d, want 2", got)
	}
	pair, err := GetFloatPair(s, "/actions/continuous/linear_range")
	if err != nil || pair != [2]float64{-0.5, 1.0} {
		t.Errorf("linear_range = (%v, %v)", pair, err)
	}
	if got := StringOr(s, "/map_generator/algorithm", ""); got != "barn" {
		t.Errorf("algorithm = %q, want barn", got)
	}

	keys := s.Keys("/map_generator")
	want := []string{"/map_generator/algorithm", "/map_generator/episode_per_map"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
