package task

import (
	"fmt"
	"strings"
	"unicode"
)

// Branch maps a root task's outcome to the tasks launched next.
type Branch struct {
	Root      string   `json:"root"`
	OnSuccess []string `json:"on_success,omitempty"`
	OnFailure []string `json:"on_failure,omitempty"`
}

// DiagnosticKind classifies a problem found while configuring the tree.
type DiagnosticKind int

const (
	MalformedBranchSyntax DiagnosticKind = iota
	DuplicateBranchRoot
	UnknownRoot
	UnknownLeaf
	EmptyBranch
)

func (k DiagnosticKind) String() string {
	switch k {
	case MalformedBranchSyntax:
		return "MalformedBranchSyntax"
	case DuplicateBranchRoot:
		return "DuplicateBranchRoot"
	case UnknownRoot:
		return "UnknownRoot"
	case UnknownLeaf:
		return "UnknownLeaf"
	case EmptyBranch:
		return "EmptyBranch"
	default:
		return fmt.Sprintf("DiagnosticKind(%d)", int(k))
	}
}

// Diagnostic reports one problem with a bracket group. Groups with
// diagnostics other than UnknownLeaf are skipped.
type Diagnostic struct {
	Group string
	Kind  DiagnosticKind
	Msg   string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s [ from '%s' ]", d.Kind, d.Msg, d.Group)
}

// ParseTree parses "[Root ? S1,S2 : F1,F2]" groups. Whitespace is ignored
// and either list may be omitted. It checks syntax only: a group is returned
// even when both lists are empty. Malformed groups are reported and skipped.
func ParseTree(spec string) ([]Branch, []Diagnostic) {
	src := stripSpace(spec)

	var (
		branches []Branch
		diags    []Diagnostic
	)

	for len(src) > 0 {
		open := strings.IndexByte(src, '[')
		if open < 0 {
			diags = append(diags, malformed(src, "text outside brackets"))
			break
		}
		if open > 0 {
			diags = append(diags, malformed(src[:open], "text outside brackets"))
		}
		src = src[open+1:]

		end := strings.IndexAny(src, "[]")
		if end < 0 || src[end] == '[' {
			group := src
			if end >= 0 {
				group = src[:end]
			}
			diags = append(diags, malformed("["+group, "missing ']'"))
			if end < 0 {
				break
			}
			src = src[end:]
			continue
		}

		group := src[:end]
		src = src[end+1:]

		b, err := parseGroup(group)
		if err != "" {
			diags = append(diags, malformed(group, err))
			continue
		}
		branches = append(branches, b)
	}

	return branches, diags
}

func parseGroup(group string) (Branch, string) {
	if strings.Count(group, "?") > 1 {
		return Branch{}, "repeated '?'"
	}
	if strings.Count(group, ":") > 1 {
		return Branch{}, "repeated ':'"
	}

	q := strings.IndexByte(group, '?')
	c := strings.IndexByte(group, ':')
	if q >= 0 && c >= 0 && c < q {
		return Branch{}, "':' before '?'"
	}

	rootEnd := len(group)
	if q >= 0 {
		rootEnd = q
	} else if c >= 0 {
		rootEnd = c
	}
	root := group[:rootEnd]
	if root == "" {
		return Branch{}, "empty root"
	}
	if !validName(root) {
		return Branch{}, fmt.Sprintf("invalid task name %q", root)
	}

	var success, failure string
	switch {
	case q >= 0 && c >= 0:
		success, failure = group[q+1:c], group[c+1:]
	case q >= 0:
		success = group[q+1:]
	case c >= 0:
		failure = group[c+1:]
	}

	b := Branch{Root: root}
	var bad string
	if b.OnSuccess, bad = splitNames(success); bad != "" {
		return Branch{}, fmt.Sprintf("invalid task name %q", bad)
	}
	if b.OnFailure, bad = splitNames(failure); bad != "" {
		return Branch{}, fmt.Sprintf("invalid task name %q", bad)
	}
	return b, ""
}

// splitNames splits a comma list, skipping empty elements. It returns the
// first invalid name, if any.
func splitNames(list string) ([]string, string) {
	var names []string
	for _, n := range strings.Split(list, ",") {
		if n == "" {
			continue
		}
		if !validName(n) {
			return nil, n
		}
		names = append(names, n)
	}
	return names, ""
}

// SplitList splits a comma-separated list of task names, dropping
// whitespace and empty elements.
func SplitList(list string) []string {
	var names []string
	for _, n := range strings.Split(stripSpace(list), ",") {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

func validName(s string) bool {
	for _, r := range s {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func malformed(group, msg string) Diagnostic {
	return Diagnostic{Group: group, Kind: MalformedBranchSyntax, Msg: msg}
}
