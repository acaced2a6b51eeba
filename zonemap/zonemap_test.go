package zonemap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanSkipEq(t *testing.T) {
	z := Map{"age": {Min: int64(10), Max: int64(20)}}
	require.True(t, CanSkip(z, Filter{"age": int64(5)}))
	require.True(t, CanSkip(z, Filter{"age": int64(25)}))
	require.False(t, CanSkip(z, Filter{"age": int64(15)}))
}

func TestCanSkipComparisons(t *testing.T) {
	z := Map{"age": {Min: int64(10), Max: int64(20)}}
	require.True(t, CanSkip(z, Filter{"age": map[string]any{OpGt: int64(20)}}))
	require.False(t, CanSkip(z, Filter{"age": map[string]any{OpGt: int64(19)}}))
	require.True(t, CanSkip(z, Filter{"age": map[string]any{OpGte: int64(21)}}))
	require.True(t, CanSkip(z, Filter{"age": map[string]any{OpLt: int64(10)}}))
	require.True(t, CanSkip(z, Filter{"age": map[string]any{OpLte: int64(9)}}))
	require.False(t, CanSkip(z, Filter{"age": map[string]any{OpLte: int64(10)}}))
}

func TestCanSkipIn(t *testing.T) {
	z := Map{"status": {Min: "a", Max: "c"}}
	require.True(t, CanSkip(z, Filter{"status": map[string]any{OpIn: []any{"x", "y"}}}))
	require.False(t, CanSkip(z, Filter{"status": map[string]any{OpIn: []any{"x", "b"}}}))
}

func TestCanSkipBetween(t *testing.T) {
	z := Map{"age": {Min: int64(10), Max: int64(20)}}
	require.True(t, CanSkip(z, Filter{"age": map[string]any{OpBetween: []any{int64(21), int64(30)}}}))
	require.True(t, CanSkip(z, Filter{"age": map[string]any{OpBetween: []any{int64(0), int64(5)}}}))
	require.False(t, CanSkip(z, Filter{"age": map[string]any{OpBetween: []any{int64(15), int64(25)}}}))
}

func TestCanSkipNe(t *testing.T) {
	constant := Map{"status": {Min: "active", Max: "active"}}
	require.True(t, CanSkip(constant, Filter{"status": map[string]any{OpNe: "active"}}))

	varying := Map{"status": {Min: "active", Max: "inactive"}}
	require.False(t, CanSkip(varying, Filter{"status": map[string]any{OpNe: "active"}}))
}

func TestCanSkipNilBoundsNeverSkip(t *testing.T) {
	z := Map{"age": {Min: nil, Max: nil}}
	require.False(t, CanSkip(z, Filter{"age": int64(5)}))
}

func TestCanSkipMissingColumnNeverSkip(t *testing.T) {
	z := Map{}
	require.False(t, CanSkip(z, Filter{"age": int64(5)}))
}

func TestCanSkipOrPassesThroughUnpruned(t *testing.T) {
	z := Map{"age": {Min: int64(10), Max: int64(20)}}
	f := Filter{OpOr: []Filter{{"age": int64(100)}, {"age": int64(200)}}}
	require.False(t, CanSkip(z, f))
}

func TestCanSkipAndIsSkippableIfAnyLeafSkips(t *testing.T) {
	z := Map{"age": {Min: int64(10), Max: int64(20)}, "status": {Min: "a", Max: "b"}}
	f := Filter{OpAnd: []Filter{
		{"age": int64(100)},
		{"status": "a"},
	}}
	require.True(t, CanSkip(z, f))
}

func TestCanSkipTime(t *testing.T) {
	now := time.Unix(1000, 0)
	later := time.Unix(2000, 0)
	z := Map{"ts": {Min: now, Max: later}}
	require.True(t, CanSkip(z, Filter{"ts": map[string]any{OpLt: now}}))
	require.False(t, CanSkip(z, Filter{"ts": map[string]any{OpLt: later}}))
}
