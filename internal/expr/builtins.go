package expr

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

type builtin func(r *runner, args []any, kwargs map[string]any) (any, error)

const maxRange = 100_000

// builtins is the complete set of callable helper names. Anything else in
// call position is rejected by the parser.
var builtins = map[string]builtin{
	"now":                biNow,
	"datetime.now":       biNow,
	"today":              biToday,
	"date.today":         biToday,
	"datetime.today":     biToday,
	"timedelta":          biTimedelta,
	"datetime.timedelta": biTimedelta,
	"strptime":           biStrptime,
	"datetime.strptime":  biStrptime,
	"strftime":           biStrftime,
	"abs":                biAbs,
	"len":                biLen,
	"any":                biAny,
	"all":                biAll,
	"contains":           biContains,
	"join":               biJoin,
	"min":                biMin,
	"max":                biMax,
	"sum":                biSum,
	"sorted":             biSorted,
	"range":              biRange,
	"str":                biStr,
	"int":                biInt,
	"float":              biFloat,
	"bool":               biBool,
	"round":              biRound,
}

// methods lists the value methods callable as x.name(...).
var methods = map[string]bool{
	"get":           true,
	"keys":          true,
	"values":        true,
	"upper":         true,
	"lower":         true,
	"strip":         true,
	"startswith":    true,
	"endswith":      true,
	"split":         true,
	"join":          true,
	"strftime":      true,
	"total_seconds": true,
}

// Builtins returns the sorted names of the allowed helper functions.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func arity(name string, args []any, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("%s() takes %d argument(s), got %d", name, lo, len(args))
		}
		return fmt.Errorf("%s() takes %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}

func noKwargs(name string, kwargs map[string]any) error {
	for k := range kwargs {
		return fmt.Errorf("%s() got an unexpected keyword argument %q", name, k)
	}
	return nil
}

func kwargsOnly(name string, kwargs map[string]any, allowed ...string) error {
	for k := range kwargs {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("%s() got an unexpected keyword argument %q", name, k)
		}
	}
	return nil
}

// iterate materializes anything that can appear on the right of "for ... in".
func iterate(v any) ([]any, error) {
	switch t := v.(type) {
	case *generator:
		return t.collect()
	case string:
		return nil, fmt.Errorf("str is not iterable here")
	}
	if s, ok := toSeq(v); ok {
		return s, nil
	}
	if isMap(v) {
		keys, _ := mapEntries(v)
		return keys, nil
	}
	return nil, fmt.Errorf("%s is not iterable", typeName(v))
}

// each walks v, stopping early when yield returns true.
func each(v any, yield func(any) (bool, error)) error {
	if g, ok := v.(*generator); ok {
		return g.each(yield)
	}
	items, err := iterate(v)
	if err != nil {
		return err
	}
	for _, item := range items {
		stop, err := yield(item)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

func biNow(r *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("now", args, 0, 0); err != nil {
		return nil, err
	}
	return r.now(), noKwargs("now", kwargs)
}

func biToday(r *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("today", args, 0, 0); err != nil {
		return nil, err
	}
	t := r.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), noKwargs("today", kwargs)
}

var timedeltaUnits = []struct {
	name string
	unit time.Duration
}{
	{"days", 24 * time.Hour},
	{"seconds", time.Second},
	{"microseconds", time.Microsecond},
	{"milliseconds", time.Millisecond},
	{"minutes", time.Minute},
	{"hours", time.Hour},
	{"weeks", 7 * 24 * time.Hour},
}

func biTimedelta(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("timedelta", args, 0, len(timedeltaUnits)); err != nil {
		return nil, err
	}
	var total float64
	for i, u := range timedeltaUnits {
		v, named := kwargs[u.name]
		if i < len(args) {
			if named {
				return nil, fmt.Errorf("timedelta() got multiple values for %q", u.name)
			}
			v, named = args[i], true
		}
		if !named {
			continue
		}
		n, ok := asNumber(v)
		if !ok {
			return nil, fmt.Errorf("timedelta() %s must be a number, not %s", u.name, typeName(v))
		}
		total += n.float() * float64(u.unit)
	}
	known := make([]string, len(timedeltaUnits))
	for i, u := range timedeltaUnits {
		known[i] = u.name
	}
	if err := kwargsOnly("timedelta", kwargs, known...); err != nil {
		return nil, err
	}
	return toDuration(math.Round(total))
}

var pyDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'f': "000000",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// goLayout converts a strftime-style format into a Go time layout.
func goLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("format %q ends with a bare %%", format)
		}
		i++
		layout, ok := pyDirectives[format[i]]
		if !ok {
			return "", fmt.Errorf("unsupported format directive %%%c", format[i])
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}

func biStrptime(r *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("strptime", args, 2, 2); err != nil {
		return nil, err
	}
	if err := noKwargs("strptime", kwargs); err != nil {
		return nil, err
	}
	s, ok1 := args[0].(string)
	format, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("strptime() arguments must be str")
	}
	layout, err := goLayout(format)
	if err != nil {
		return nil, err
	}
	t, err := time.ParseInLocation(layout, s, r.now().Location())
	if err != nil {
		return nil, fmt.Errorf("time data %q does not match format %q", s, format)
	}
	return t, nil
}

func strftime(t time.Time, format string) (string, error) {
	layout, err := goLayout(format)
	if err != nil {
		return "", err
	}
	return t.Format(layout), nil
}

func biStrftime(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("strftime", args, 2, 2); err != nil {
		return nil, err
	}
	if err := noKwargs("strftime", kwargs); err != nil {
		return nil, err
	}
	t, ok := args[0].(time.Time)
	if !ok {
		return nil, fmt.Errorf("strftime() first argument must be datetime, not %s", typeName(args[0]))
	}
	format, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("strftime() format must be str")
	}
	return strftime(t, format)
}

func biAbs(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("abs", args, 1, 1); err != nil {
		return nil, err
	}
	if d, ok := args[0].(time.Duration); ok {
		return max(d, -d), noKwargs("abs", kwargs)
	}
	n, ok := asNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("bad operand type for abs(): %s", typeName(args[0]))
	}
	if n.isInt {
		if n.i == math.MinInt {
			return nil, errIntOverflow
		}
		if n.i < 0 {
			return -n.i, nil
		}
		return n.i, noKwargs("abs", kwargs)
	}
	return math.Abs(n.f), noKwargs("abs", kwargs)
}

func biLen(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("len", args, 1, 1); err != nil {
		return nil, err
	}
	if err := noKwargs("len", kwargs); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return strLen(v), nil
	case *generator:
		return nil, fmt.Errorf("object of type generator has no len()")
	}
	if s, ok := toSeq(args[0]); ok {
		return len(s), nil
	}
	if isMap(args[0]) {
		return mapLen(args[0]), nil
	}
	return nil, fmt.Errorf("object of type %s has no len()", typeName(args[0]))
}

func biAny(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("any", args, 1, 1); err != nil {
		return nil, err
	}
	if err := noKwargs("any", kwargs); err != nil {
		return nil, err
	}
	found := false
	err := each(args[0], func(v any) (bool, error) {
		found = Truthy(v)
		return found, nil
	})
	return found, err
}

func biAll(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("all", args, 1, 1); err != nil {
		return nil, err
	}
	if err := noKwargs("all", kwargs); err != nil {
		return nil, err
	}
	ok := true
	err := each(args[0], func(v any) (bool, error) {
		ok = Truthy(v)
		return !ok, nil
	})
	return ok, err
}

func biContains(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("contains", args, 2, 2); err != nil {
		return nil, err
	}
	if err := noKwargs("contains", kwargs); err != nil {
		return nil, err
	}
	container := args[0]
	if g, ok := container.(*generator); ok {
		items, err := g.collect()
		if err != nil {
			return nil, err
		}
		container = items
	}
	return contains(container, args[1])
}

func joinItems(items []any, sep string) (string, error) {
	parts := make([]string, len(items))
	size := 0
	if len(items) > 1 {
		n, err := repeatLen(len(sep), len(items)-1)
		if err != nil {
			return "", err
		}
		size = n
	}
	for i, item := range items {
		parts[i] = Format(item)
		size += len(parts[i])
		if err := checkSize(size); err != nil {
			return "", err
		}
	}
	return strings.Join(parts, sep), nil
}

func biJoin(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("join", args, 1, 2); err != nil {
		return nil, err
	}
	if err := kwargsOnly("join", kwargs, "sep"); err != nil {
		return nil, err
	}
	sep := ", "
	if len(args) == 2 {
		kwargs = map[string]any{"sep": args[1]}
	}
	if v, ok := kwargs["sep"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("join() separator must be str, not %s", typeName(v))
		}
		sep = s
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	return joinItems(items, sep)
}

func extremum(name string, args []any, kwargs map[string]any, want int) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s() expected at least 1 argument", name)
	}
	if err := kwargsOnly(name, kwargs, "default"); err != nil {
		return nil, err
	}
	items := args
	if len(args) == 1 {
		var err error
		if items, err = iterate(args[0]); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		if def, ok := kwargs["default"]; ok {
			return def, nil
		}
		return nil, fmt.Errorf("%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, item := range items[1:] {
		c, err := compare(item, best)
		if err != nil {
			return nil, err
		}
		if c == want {
			best = item
		}
	}
	return best, nil
}

func biMin(_ *runner, args []any, kwargs map[string]any) (any, error) {
	return extremum("min", args, kwargs, -1)
}

func biMax(_ *runner, args []any, kwargs map[string]any) (any, error) {
	return extremum("max", args, kwargs, 1)
}

func biSum(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("sum", args, 1, 2); err != nil {
		return nil, err
	}
	if err := kwargsOnly("sum", kwargs, "start"); err != nil {
		return nil, err
	}
	var total any = 0
	if len(args) == 2 {
		total = args[1]
	} else if v, ok := kwargs["start"]; ok {
		total = v
	}
	err := each(args[0], func(v any) (bool, error) {
		next, err := arith("+", total, v)
		total = next
		return false, err
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

func biSorted(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("sorted", args, 1, 1); err != nil {
		return nil, err
	}
	if err := kwargsOnly("sorted", kwargs, "reverse"); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	out := slices.Clone(items)
	reverse := Truthy(kwargs["reverse"])
	var cmpErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := compare(out[i], out[j])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	return out, nil
}

func intArg(name string, v any) (int, error) {
	n, ok := asNumber(v)
	if !ok || !n.isInt {
		return 0, fmt.Errorf("%s() argument must be int, not %s", name, typeName(v))
	}
	return n.i, nil
}

func biRange(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("range", args, 1, 3); err != nil {
		return nil, err
	}
	if err := noKwargs("range", kwargs); err != nil {
		return nil, err
	}
	bounds := make([]int, len(args))
	for i, a := range args {
		n, err := intArg("range", a)
		if err != nil {
			return nil, err
		}
		bounds[i] = n
	}
	start, stop, step := 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return nil, fmt.Errorf("range() step must not be zero")
	}
	var out []any
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(out) >= maxRange {
			return nil, fmt.Errorf("range() exceeds %d elements", maxRange)
		}
		out = append(out, i)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func biStr(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("str", args, 1, 1); err != nil {
		return nil, err
	}
	return Format(args[0]), noKwargs("str", kwargs)
}

func biInt(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("int", args, 1, 1); err != nil {
		return nil, err
	}
	if err := noKwargs("int", kwargs); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case bool:
		return boolInt(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %q", v)
		}
		return n, nil
	}
	n, ok := asNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("int() argument must be a string or a number, not %s", typeName(args[0]))
	}
	if n.isInt {
		return n.i, nil
	}
	return int(math.Trunc(n.f)), nil
}

func biFloat(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("float", args, 1, 1); err != nil {
		return nil, err
	}
	if err := noKwargs("float", kwargs); err != nil {
		return nil, err
	}
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("could not convert string to float: %q", s)
		}
		return f, nil
	}
	n, ok := asNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("float() argument must be a string or a number, not %s", typeName(args[0]))
	}
	return n.float(), nil
}

func biBool(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("bool", args, 1, 1); err != nil {
		return nil, err
	}
	return Truthy(args[0]), noKwargs("bool", kwargs)
}

func biRound(_ *runner, args []any, kwargs map[string]any) (any, error) {
	if err := arity("round", args, 1, 2); err != nil {
		return nil, err
	}
	if err := noKwargs("round", kwargs); err != nil {
		return nil, err
	}
	n, ok := asNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("round() argument must be a number, not %s", typeName(args[0]))
	}
	if len(args) == 1 {
		if n.isInt {
			return n.i, nil
		}
		return int(math.RoundToEven(n.f)), nil
	}
	digits, err := intArg("round", args[1])
	if err != nil {
		return nil, err
	}
	if n.isInt {
		return n.i, nil
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(n.f*scale) / scale, nil
}

func callMethod(recv any, name string, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs(name, kwargs); err != nil {
		return nil, err
	}
	switch v := recv.(type) {
	case string:
		return stringMethod(v, name, args)
	case time.Time:
		if name == "strftime" {
			if err := arity(name, args, 1, 1); err != nil {
				return nil, err
			}
			format, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("strftime() format must be str")
			}
			return strftime(v, format)
		}
	case time.Duration:
		if name == "total_seconds" {
			if err := arity(name, args, 0, 0); err != nil {
				return nil, err
			}
			return v.Seconds(), nil
		}
	}
	if isMap(recv) {
		switch name {
		case "get":
			if err := arity(name, args, 1, 2); err != nil {
				return nil, err
			}
			val, found, err := mapLookup(recv, args[0])
			if err != nil {
				return nil, err
			}
			if !found {
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, nil
			}
			return val, nil
		case "keys", "values":
			if err := arity(name, args, 0, 0); err != nil {
				return nil, err
			}
			keys, vals := mapEntries(recv)
			if name == "keys" {
				return keys, nil
			}
			return vals, nil
		}
	}
	return nil, fmt.Errorf("%s has no method %q", typeName(recv), name)
}

func stringMethod(s, name string, args []any) (any, error) {
	strArg := func() (string, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return "", err
		}
		a, ok := args[0].(string)
		if !ok {
			return "", fmt.Errorf("%s() argument must be str, not %s", name, typeName(args[0]))
		}
		return a, nil
	}
	switch name {
	case "upper", "lower", "strip":
		if err := arity(name, args, 0, 0); err != nil {
			return nil, err
		}
		switch name {
		case "upper":
			return strings.ToUpper(s), nil
		case "lower":
			return strings.ToLower(s), nil
		}
		return strings.TrimSpace(s), nil
	case "startswith":
		p, err := strArg()
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(s, p), nil
	case "endswith":
		p, err := strArg()
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(s, p), nil
	case "split":
		var parts []string
		if len(args) == 0 {
			parts = strings.Fields(s)
		} else {
			sep, err := strArg()
			if err != nil {
				return nil, err
			}
			if sep == "" {
				return nil, fmt.Errorf("empty separator")
			}
			parts = strings.Split(s, sep)
		}
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case "join":
		if err := arity(name, args, 1, 1); err != nil {
			return nil, err
		}
		items, err := iterate(args[0])
		if err != nil {
			return nil, err
		}
		return joinItems(items, s)
	}
	return nil, fmt.Errorf("str has no method %q", name)
}
