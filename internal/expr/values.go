package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type number struct {
	i     int
	f     float64
	isInt bool
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func (n number) value() any {
	if n.isInt {
		return n.i
	}
	return n.f
}

func asNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{i: n, isInt: true}, true
	case int64:
		return number{i: int(n), isInt: true}, true
	case float64:
		return number{f: n}, true
	case bool, string, nil, time.Duration:
		return number{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{i: int(rv.Int()), isInt: true}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return number{i: int(rv.Uint()), isInt: true}, true
	case reflect.Float32, reflect.Float64:
		return number{f: rv.Float()}, true
	}
	return number{}, false
}

// toSeq returns v as a []any when it is slice- or array-shaped. Strings are
// not sequences here.
func toSeq(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case nil, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// IsSequence reports whether v can be iterated by a loop step.
func IsSequence(v any) bool {
	_, ok := toSeq(v)
	return ok
}

// Sequence converts a sequence-shaped value into []any.
func Sequence(v any) ([]any, bool) {
	return toSeq(v)
}

func isMap(v any) bool {
	if _, ok := v.(map[string]any); ok {
		return true
	}
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Map
}

func mapLookup(m any, key any) (any, bool, error) {
	if mm, ok := m.(map[string]any); ok {
		ks, ok := key.(string)
		if !ok {
			return nil, false, nil
		}
		v, found := mm[ks]
		return v, found, nil
	}
	rv := reflect.ValueOf(m)
	kt := rv.Type().Key()
	kv := reflect.ValueOf(key)
	if key == nil {
		return nil, false, nil
	}
	switch {
	case kv.Type().AssignableTo(kt):
	case kv.Type().ConvertibleTo(kt) && kv.Kind() == kt.Kind():
		kv = kv.Convert(kt)
	default:
		if n, ok := asNumber(key); ok && n.isInt && isIntKind(kt.Kind()) {
			kv = reflect.ValueOf(n.i).Convert(kt)
		} else {
			return nil, false, nil
		}
	}
	out := rv.MapIndex(kv)
	if !out.IsValid() {
		return nil, false, nil
	}
	return out.Interface(), true, nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// mapEntries returns keys and values sorted by rendered key.
func mapEntries(m any) ([]any, []any) {
	if mm, ok := m.(map[string]any); ok {
		names := make([]string, 0, len(mm))
		for k := range mm {
			names = append(names, k)
		}
		sort.Strings(names)
		keys := make([]any, len(names))
		vals := make([]any, len(names))
		for i, k := range names {
			keys[i] = k
			vals[i] = mm[k]
		}
		return keys, vals
	}
	rv := reflect.ValueOf(m)
	mk := rv.MapKeys()
	sort.Slice(mk, func(i, j int) bool {
		return Format(mk[i].Interface()) < Format(mk[j].Interface())
	})
	keys := make([]any, len(mk))
	vals := make([]any, len(mk))
	for i, k := range mk {
		keys[i] = k.Interface()
		vals[i] = rv.MapIndex(k).Interface()
	}
	return keys, vals
}

func mapLen(m any) int {
	if mm, ok := m.(map[string]any); ok {
		return len(mm)
	}
	return reflect.ValueOf(m).Len()
}

// Truthy applies the boolean coercion used by conditions and boolean
// operators: null, false, zero, and empty strings, sequences and mappings
// are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case time.Duration:
		return t != 0
	case time.Time:
		return true
	}
	if n, ok := asNumber(v); ok {
		return n.float() != 0
	}
	if s, ok := toSeq(v); ok {
		return len(s) > 0
	}
	if isMap(v) {
		return mapLen(v) > 0
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		return !rv.IsNil()
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case string:
		return "str"
	case time.Time:
		return "datetime"
	case time.Duration:
		return "timedelta"
	}
	if n, ok := asNumber(v); ok {
		if n.isInt {
			return "int"
		}
		return "float"
	}
	if _, ok := toSeq(v); ok {
		return "list"
	}
	if isMap(v) {
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		if !ok {
			return false
		}
		if na.isInt && nb.isInt {
			return na.i == nb.i
		}
		return na.float() == nb.float()
	}
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case time.Duration:
		y, ok := b.(time.Duration)
		return ok && x == y
	}
	if sa, ok := toSeq(a); ok {
		sb, ok := toSeq(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	if isMap(a) {
		if !isMap(b) || mapLen(a) != mapLen(b) {
			return false
		}
		keys, vals := mapEntries(a)
		for i, k := range keys {
			other, found, _ := mapLookup(b, k)
			if !found || !equal(vals[i], other) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, error) {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			if na.isInt && nb.isInt {
				return cmpOrdered(na.i, nb.i), nil
			}
			return cmpOrdered(na.float(), nb.float()), nil
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case time.Duration:
		if y, ok := b.(time.Duration); ok {
			return cmpOrdered(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmpOrdered(boolInt(x), boolInt(y)), nil
		}
	}
	if sa, ok := toSeq(a); ok {
		if sb, ok := toSeq(b); ok {
			for i := 0; i < len(sa) && i < len(sb); i++ {
				if equal(sa[i], sb[i]) {
					continue
				}
				return compare(sa[i], sb[i])
			}
			return cmpOrdered(len(sa), len(sb)), nil
		}
	}
	return 0, fmt.Errorf("cannot order %s and %s", typeName(a), typeName(b))
}

func cmpOrdered[T int | float64 | time.Duration](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in <str>' requires str as left operand, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	case nil:
		return false, fmt.Errorf("argument of type NoneType is not iterable")
	}
	if s, ok := toSeq(container); ok {
		for _, el := range s {
			if equal(el, item) {
				return true, nil
			}
		}
		return false, nil
	}
	if isMap(container) {
		_, found, err := mapLookup(container, item)
		return found, err
	}
	return false, fmt.Errorf("argument of type %s is not iterable", typeName(container))
}

func index(target, key any) (any, error) {
	if isMap(target) {
		v, found, err := mapLookup(target, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("key %s not found", repr(key))
		}
		return v, nil
	}
	n, ok := asNumber(key)
	if !ok || !n.isInt {
		return nil, fmt.Errorf("%s indices must be integers, not %s", typeName(target), typeName(key))
	}
	if s, ok := target.(string); ok {
		r := []rune(s)
		i, err := normIndex(n.i, len(r))
		if err != nil {
			return nil, err
		}
		return string(r[i]), nil
	}
	seq, ok := toSeq(target)
	if !ok {
		return nil, fmt.Errorf("%s is not subscriptable", typeName(target))
	}
	i, err := normIndex(n.i, len(seq))
	if err != nil {
		return nil, err
	}
	return seq[i], nil
}

func normIndex(i, n int) (int, error) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index %d out of range for length %d", i, n)
	}
	return i, nil
}

func sliceBounds(lo, hi any, n int) (int, int, error) {
	bound := func(v any, def int) (int, error) {
		if v == nil {
			return def, nil
		}
		num, ok := asNumber(v)
		if !ok || !num.isInt {
			return 0, fmt.Errorf("slice indices must be integers, not %s", typeName(v))
		}
		i := num.i
		if i < 0 {
			i += n
		}
		return max(0, min(i, n)), nil
	}
	l, err := bound(lo, 0)
	if err != nil {
		return 0, 0, err
	}
	h, err := bound(hi, n)
	if err != nil {
		return 0, 0, err
	}
	if h < l {
		h = l
	}
	return l, h, nil
}

func slice(target, lo, hi any) (any, error) {
	if s, ok := target.(string); ok {
		r := []rune(s)
		l, h, err := sliceBounds(lo, hi, len(r))
		if err != nil {
			return nil, err
		}
		return string(r[l:h]), nil
	}
	seq, ok := toSeq(target)
	if !ok {
		return nil, fmt.Errorf("%s is not sliceable", typeName(target))
	}
	l, h, err := sliceBounds(lo, hi, len(seq))
	if err != nil {
		return nil, err
	}
	out := make([]any, h-l)
	copy(out, seq[l:h])
	return out, nil
}

func getAttr(target any, name string) (any, error) {
	switch t := target.(type) {
	case time.Duration:
		// days floors toward negative infinity; seconds is always non-negative.
		const day = 24 * time.Hour
		days := t / day
		if t%day < 0 {
			days--
		}
		switch name {
		case "days":
			return int(days), nil
		case "seconds":
			return int((t - days*day) / time.Second), nil
		}
	case time.Time:
		switch name {
		case "year":
			return t.Year(), nil
		case "month":
			return int(t.Month()), nil
		case "day":
			return t.Day(), nil
		case "hour":
			return t.Hour(), nil
		case "minute":
			return t.Minute(), nil
		case "second":
			return t.Second(), nil
		}
	}
	if isMap(target) {
		v, found, err := mapLookup(target, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("key %q not found", name)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%s has no attribute %q", typeName(target), name)
}

func arith(op string, a, b any) (any, error) {
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum && bNum {
		return numericOp(op, na, nb)
	}

	switch op {
	case "+":
		switch x := a.(type) {
		case string:
			if y, ok := b.(string); ok {
				if err := checkSize(len(x) + len(y)); err != nil {
					return nil, err
				}
				return x + y, nil
			}
		case time.Time:
			if y, ok := b.(time.Duration); ok {
				return x.Add(y), nil
			}
		case time.Duration:
			switch y := b.(type) {
			case time.Duration:
				sum, err := addInt(int(x), int(y))
				return time.Duration(sum), err
			case time.Time:
				return y.Add(x), nil
			}
		}
		if sa, ok := toSeq(a); ok {
			if sb, ok := toSeq(b); ok {
				if err := checkSize(len(sa) + len(sb)); err != nil {
					return nil, err
				}
				out := make([]any, 0, len(sa)+len(sb))
				return append(append(out, sa...), sb...), nil
			}
		}
	case "-":
		switch x := a.(type) {
		case time.Time:
			switch y := b.(type) {
			case time.Time:
				return x.Sub(y), nil
			case time.Duration:
				return x.Add(-y), nil
			}
		case time.Duration:
			if y, ok := b.(time.Duration); ok {
				diff, err := subInt(int(x), int(y))
				return time.Duration(diff), err
			}
		}
	case "*":
		if s, ok := a.(string); ok && bNum && nb.isInt {
			if _, err := repeatLen(len(s), nb.i); err != nil {
				return nil, err
			}
			return strings.Repeat(s, max(0, nb.i)), nil
		}
		if d, ok := a.(time.Duration); ok && bNum {
			return toDuration(float64(d) * nb.float())
		}
		if d, ok := b.(time.Duration); ok && aNum {
			return toDuration(float64(d) * na.float())
		}
		if seq, ok := toSeq(a); ok && bNum && nb.isInt {
			n, err := repeatLen(len(seq), nb.i)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, n)
			for range max(0, nb.i) {
				out = append(out, seq...)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", op, typeName(a), typeName(b))
}

// maxSize bounds the length of any single string or list an expression
// builds, in bytes or elements.
const maxSize = 1_000_000

var (
	errIntOverflow      = errors.New("integer overflow")
	errDurationOverflow = errors.New("timedelta out of range")
)

func checkSize(n int) error {
	if n > maxSize {
		return fmt.Errorf("result exceeds %d elements", maxSize)
	}
	return nil
}

// repeatLen is the length of n elements repeated count times.
func repeatLen(n, count int) (int, error) {
	if n == 0 || count <= 0 {
		return 0, nil
	}
	if n > maxSize/count {
		return 0, fmt.Errorf("repetition exceeds %d elements", maxSize)
	}
	return n * count, nil
}

func addInt(a, b int) (int, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, errIntOverflow
	}
	return s, nil
}

func subInt(a, b int) (int, error) {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		return 0, errIntOverflow
	}
	return d, nil
}

func mulInt(a, b int) (int, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt) || (b == -1 && a == math.MinInt) {
		return 0, errIntOverflow
	}
	return p, nil
}

// toDuration converts nanoseconds to a Duration, rejecting values outside
// its range.
func toDuration(ns float64) (time.Duration, error) {
	if math.IsNaN(ns) || ns >= math.MaxInt64 || ns < math.MinInt64 {
		return 0, errDurationOverflow
	}
	return time.Duration(ns), nil
}

func numericOp(op string, a, b number) (any, error) {
	if a.isInt && b.isInt {
		switch op {
		case "+":
			return addInt(a.i, b.i)
		case "-":
			return subInt(a.i, b.i)
		case "*":
			return mulInt(a.i, b.i)
		case "//":
			if b.i == 0 {
				return nil, fmt.Errorf("integer division by zero")
			}
			if a.i == math.MinInt && b.i == -1 {
				return nil, errIntOverflow
			}
			q := a.i / b.i
			if (a.i%b.i != 0) && ((a.i < 0) != (b.i < 0)) {
				q--
			}
			return q, nil
		case "%":
			if b.i == 0 {
				return nil, fmt.Errorf("integer modulo by zero")
			}
			m := a.i % b.i
			if m != 0 && ((m < 0) != (b.i < 0)) {
				m += b.i
			}
			return m, nil
		}
	}
	x, y := a.float(), b.float()
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return x / y, nil
	case "//":
		if y == 0 {
			return nil, fmt.Errorf("float floor division by zero")
		}
		return math.Floor(x / y), nil
	case "%":
		if y == 0 {
			return nil, fmt.Errorf("float modulo by zero")
		}
		m := math.Mod(x, y)
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

// Format renders v as text for substitution into a larger string. Strings
// are written verbatim; everything else uses its literal form.
func Format(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return repr(v)
}

func repr(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`).Replace(t) + "'"
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.DateTime)
	case time.Duration:
		return t.String()
	}
	if n, ok := asNumber(v); ok {
		if n.isInt {
			return strconv.Itoa(n.i)
		}
		return formatFloat(n.f)
	}
	if seq, ok := toSeq(v); ok {
		parts := make([]string, len(seq))
		for i, el := range seq {
			parts[i] = repr(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	if isMap(v) {
		keys, vals := mapEntries(v)
		parts := make([]string, len(keys))
		for i := range keys {
			parts[i] = repr(keys[i]) + ": " + repr(vals[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	var s string
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		s = strconv.FormatFloat(f, 'e', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func strLen(s string) int {
	return utf8.RuneCountInString(s)
}

// TypeName describes v using the expression language's type names.
func TypeName(v any) string {
	return typeName(v)
}
