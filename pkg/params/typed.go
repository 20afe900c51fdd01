package params

import (
	"math"

	"github.com/pkg/errors"
)

func GetInt(s Store, key string) (int, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, errors.Wrapf(ErrWrongType, "%s: %v is not an integer", key, n)
		}
		return int(n), nil
	default:
		return 0, errors.Wrapf(ErrWrongType, "%s: %T", key, v)
	}
}

func GetFloat(s Store, key string) (float64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, errors.Wrapf(ErrWrongType, "%s: %T", key, v)
	}
	return f, nil
}

func GetString(s Store, key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", errors.Wrapf(ErrWrongType, "%s: %T", key, v)
	}
	return str, nil
}

// GetFloatPair reads a two-element numeric list such as [min, max]
func GetFloatPair(s Store, key string) ([2]float64, error) {
	v, err := s.Get(key)
	if err != nil {
		return [2]float64{}, err
	}

	var items []any
	switch l := v.(type) {
	case [2]float64:
		return l, nil
	case []float64:
		for _, f := range l {
			items = append(items, f)
		}
	case []any:
		items = l
	default:
		return [2]float64{}, errors.Wrapf(ErrWrongType, "%s: %T", key, v)
	}

	if len(items) != 2 {
		return [2]float64{}, errors.Wrapf(ErrWrongType, "%s: want 2 elements, got %d", key, len(items))
	}
	var pair [2]float64
	for i, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return [2]float64{}, errors.Wrapf(ErrWrongType, "%s[%d]: %T", key, i, item)
		}
		pair[i] = f
	}
	return pair, nil
}

// IntOr returns the parameter or fallback when it is missing or unreadable
func IntOr(s Store, key string, fallback int) int {
	v, err := GetInt(s, key)
	if err != nil {
		return fallback
	}
	return v
}

func FloatOr(s Store, key string, fallback float64) float64 {
	v, err := GetFloat(s, key)
	if err != nil {
		return fallback
	}
	return v
}

func StringOr(s Store, key string, fallback string) string {
	v, err := GetString(s, key)
	if err != nil {
		return fallback
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
