package observer

import (
	"runtime"
	"strconv"
	"strings"
)

const selfPackage = "github.com/szibis/request-toolbar/internal/observer"

// DefaultIgnorePrefixes lists function-name prefixes that are never reported as
// the origin of a query.
var DefaultIgnorePrefixes = []string{
	"runtime.",
	"testing.",
	"database/sql.",
	"net/http.",
	"reflect.",
	"gorm.io/",
	"github.com/jackc/",
	"github.com/szibis/request-toolbar/internal/toolbar.",
	selfPackage + ".(*",
}

// Caller is a resolved source location.
type Caller struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
}

// CallerResolver finds the first stack frame outside ignored packages.
type CallerResolver struct {
	// MaxDepth bounds how many frames are inspected.
	MaxDepth int
	// IgnorePrefixes are matched against fully qualified function names.
	IgnorePrefixes []string
}

// NewCallerResolver returns a resolver with the default ignore list plus extra.
func NewCallerResolver(maxDepth int, extra ...string) *CallerResolver {
	if maxDepth <= 0 {
		maxDepth = 32
	}
	prefixes := make([]string, 0, len(DefaultIgnorePrefixes)+len(extra))
	prefixes = append(prefixes, DefaultIgnorePrefixes...)
	prefixes = append(prefixes, extra...)
	return &CallerResolver{MaxDepth: maxDepth, IgnorePrefixes: prefixes}
}

// Resolve walks at most MaxDepth frames above its caller.
func (r *CallerResolver) Resolve() (Caller, bool) {
	pcs := make([]uintptr, r.MaxDepth)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return Caller{}, false
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.File != "" && !r.ignored(frame.Function) {
			return Caller{File: frame.File, Line: frame.Line, Function: frame.Function}, true
		}
		if !more {
			return Caller{}, false
		}
	}
}

func (r *CallerResolver) ignored(function string) bool {
	for _, p := range r.IgnorePrefixes {
		if strings.HasPrefix(function, p) {
			return true
		}
	}
	return false
}

// EditorURL expands an editor link template. "{file}" and "{line}" are replaced
// with the caller location; an empty template yields an empty string.
func EditorURL(template string, c Caller) string {
	if template == "" || c.File == "" {
		return ""
	}
	return strings.NewReplacer("{file}", c.File, "{line}", strconv.Itoa(c.Line)).Replace(template)
}
