package builtin

import (
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Func evaluates a call. args are already unquoted.
type Func func(args []string) (any, error)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var defaults = map[string]Func{
	"now": func([]string) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	},
	"timestamp": func([]string) (any, error) {
		return time.Now().Unix(), nil
	},
	"timestampMs": func([]string) (any, error) {
		return time.Now().UnixMilli(), nil
	},
	"uuid": func([]string) (any, error) {
		return uuid.NewString(), nil
	},
	"randomInt":    randomInt,
	"randomString": randomString,
	"base64": func(args []string) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		return base64.StdEncoding.EncodeToString([]byte(args[0])), nil
	},
}

// Registry maps function names to implementations. It is read-only after
// setup and safe for concurrent calls.
type Registry struct {
	funcs map[string]Func
}

func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func, len(defaults))}
	for name, fn := range defaults {
		r.funcs[name] = fn
	}
	return r
}

func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

func (r *Registry) Has(name string) bool {
	_, ok := r.funcs[name]
	return ok
}

var callPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// IsCall reports whether expr has the shape name(args), registered or not.
func IsCall(expr string) bool {
	return callPattern.MatchString(expr)
}

// Call evaluates expr. ok is false when expr is not a call to a registered function.
func (r *Registry) Call(expr string) (value any, ok bool, err error) {
	m := callPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, false, nil
	}
	fn, found := r.funcs[m[1]]
	if !found {
		return nil, false, nil
	}

	value, err = fn(parseArgs(m[2]))
	if err != nil {
		return nil, true, fmt.Errorf("%s(): %w", m[1], err)
	}
	return value, true, nil
}

// parseArgs splits on commas outside single or double quotes and strips the quotes.
func parseArgs(s string) []string {
	if s == "" {
		return nil
	}

	var (
		args  []string
		cur   strings.Builder
		quote byte
	)
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && ch == ',':
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		args = append(args, strings.TrimSpace(cur.String()))
	}
	return args
}

// randomInt returns an int in [min, max], default [0, 100].
func randomInt(args []string) (any, error) {
	lo, hi := 0, 100
	if len(args) >= 2 {
		var err error
		if lo, err = strconv.Atoi(args[0]); err != nil {
			return nil, fmt.Errorf("min argument %q is not a valid integer", args[0])
		}
		if hi, err = strconv.Atoi(args[1]); err != nil {
			return nil, fmt.Errorf("max argument %q is not a valid integer", args[1])
		}
	}
	if hi < lo {
		return nil, fmt.Errorf("max %d is below min %d", hi, lo)
	}
	return lo + rand.IntN(hi-lo+1), nil
}

// randomString returns n alphanumeric characters, default 16.
func randomString(args []string) (any, error) {
	n := 16
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return nil, fmt.Errorf("length argument %q is not a valid length", args[0])
		}
		n = v
	}

	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphanumeric[rand.IntN(len(alphanumeric))])
	}
	return b.String(), nil
}
