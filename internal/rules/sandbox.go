// internal/rules/sandbox.go
package rules

import (
	"fmt"
	"path"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/solatis/gears/internal/calendar"
	"github.com/solatis/gears/internal/types"
)

/*
 * Interpreter sandbox.
 *
 * Rule source is interpreted by yaegi with a restricted symbol table: a
 * whitelist of side-effect-free stdlib packages plus the host package
 * "gears", which exposes the event model and the Fields helper. Anything
 * else (filesystem, network, processes) reaches rules only through
 * registered capabilities.
 *
 * Rules never write import declarations. A whitelisted package is imported
 * when its name appears as a qualifier (`strings.`) anywhere in the
 * condition or action; each import is pinned with a blank use so that a
 * false positive (a qualifier inside a string literal) does not fail
 * compilation.
 */

// SandboxPackages lists the stdlib import paths rule code may use.
var SandboxPackages = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"net/url",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

const hostPackage = "gears"

type sandboxPackage struct {
	path    string
	name    string
	pattern *regexp.Regexp
	anchor  string // exported func used for the blank use
}

type sandbox struct {
	symbols  interp.Exports
	packages []sandboxPackage
}

func newSandbox() (*sandbox, error) {
	sb := &sandbox{symbols: interp.Exports{}}

	for _, p := range append([]string{"context"}, SandboxPackages...) {
		key := p + "/" + path.Base(p)
		syms, ok := stdlib.Symbols[key]
		if !ok {
			return nil, fmt.Errorf("sandbox package %q not available in interpreter stdlib", p)
		}
		sb.symbols[key] = syms

		if p == "context" {
			continue
		}
		anchor := funcSymbol(syms)
		if anchor == "" {
			return nil, fmt.Errorf("sandbox package %q exports no functions", p)
		}
		name := path.Base(p)
		sb.packages = append(sb.packages, sandboxPackage{
			path:    p,
			name:    name,
			pattern: regexp.MustCompile(`\b` + name + `\.[A-Za-z_]`),
			anchor:  anchor,
		})
	}

	sb.symbols[hostPackage+"/"+hostPackage] = hostSymbols()
	return sb, nil
}

func funcSymbol(syms map[string]reflect.Value) string {
	names := make([]string, 0, len(syms))
	for name, v := range syms {
		if v.Kind() == reflect.Func {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// hostSymbols is the "gears" package as seen from rule code.
func hostSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Event":             reflect.ValueOf((*types.Event)(nil)),
		"Change":            reflect.ValueOf((*types.Change)(nil)),
		"Payload":           reflect.ValueOf((*types.Payload)(nil)),
		"Reference":         reflect.ValueOf((*types.Reference)(nil)),
		"Story":             reflect.ValueOf((*types.Story)(nil)),
		"Label":             reflect.ValueOf((*types.Label)(nil)),
		"CalendarReference": reflect.ValueOf((*calendar.Reference)(nil)),
		"Reporter":          reflect.ValueOf((*Reporter)(nil)),
		"Capabilities":      reflect.ValueOf((*Capabilities)(nil)),
		"Fields":            reflect.ValueOf(Fields),
		"EntityTime":        reflect.ValueOf(types.EntityTime),
		"EntityStory":       reflect.ValueOf(types.EntityStory),
	}
}

// Fields unpacks the event into the locals every rule sees.
// changes is never nil.
func Fields(e *types.Event) (id int64, entityType, action, storyType, name, appURL string, changes map[string]*types.Change, authorID string) {
	if e == nil {
		return 0, "", "", "", "", "", map[string]*types.Change{}, ""
	}
	changes = e.Changes
	if changes == nil {
		changes = map[string]*types.Change{}
	}
	return e.ID, e.EntityType, e.Action, e.StoryType, e.Name, e.AppURL, changes, e.AuthorID
}

const programTemplate = `package main

import (
	"context"
	"gears"
%s)
%s
func When(ctx context.Context, event *gears.Event, payload *gears.Payload, reporter *gears.Reporter, caps *gears.Capabilities) bool {
	id, entityType, action, storyType, name, appURL, changes, authorID := gears.Fields(event)
	_, _, _, _, _, _, _, _ = id, entityType, action, storyType, name, appURL, changes, authorID
	return (%s)
}

func Then(ctx context.Context, event *gears.Event, payload *gears.Payload, reporter *gears.Reporter, caps *gears.Capabilities) error {
	id, entityType, action, storyType, name, appURL, changes, authorID := gears.Fields(event)
	_, _, _, _, _, _, _, _ = id, entityType, action, storyType, name, appURL, changes, authorID
%s
	return nil
}
`

// program renders the interpreter source for a condition and action.
func (sb *sandbox) program(condition, action string) string {
	var imports, pins strings.Builder
	for _, p := range sb.packages {
		if !p.pattern.MatchString(condition) && !p.pattern.MatchString(action) {
			continue
		}
		fmt.Fprintf(&imports, "\t%q\n", p.path)
		fmt.Fprintf(&pins, "var _ = %s.%s\n", p.name, p.anchor)
	}
	return fmt.Sprintf(programTemplate, imports.String(), pins.String(), condition, action)
}

func (sb *sandbox) interpreter() (*interp.Interpreter, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(sb.symbols); err != nil {
		return nil, fmt.Errorf("loading sandbox symbols: %w", err)
	}
	return i, nil
}
