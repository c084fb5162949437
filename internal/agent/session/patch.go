package session

import (
	"slices"
	"strconv"
	"strings"

	"brewchat/internal/agui"
)

var pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")

// ApplyPatch applies ops to a copy of doc in order and returns the result. Add
// and replace create missing intermediate objects; `-` appends to an array.
// Ops with an unsupported verb, a malformed path, or an out-of-range array
// index are skipped.
func ApplyPatch(doc any, ops []agui.PatchOp) any {
	out := CloneValue(doc)
	for _, op := range ops {
		segs, ok := parsePointer(op.Path)
		if !ok {
			continue
		}
		switch op.Op {
		case agui.PatchAdd:
			out = setPath(out, segs, CloneValue(op.Value), true)
		case agui.PatchReplace:
			out = setPath(out, segs, CloneValue(op.Value), false)
		case agui.PatchRemove:
			out = removePath(out, segs)
		}
	}
	return out
}

func parsePointer(path string) ([]string, bool) {
	if path == "" {
		return nil, true
	}
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}
	segs := strings.Split(path[1:], "/")
	for i, seg := range segs {
		segs[i] = pointerUnescaper.Replace(seg)
	}
	return segs, true
}

// setPath writes the leaf at segs, creating missing intermediate objects. An
// existing array element is overwritten; with grow set, index len(n) appends.
func setPath(node any, segs []string, value any, grow bool) any {
	if len(segs) == 0 {
		return value
	}
	key, rest := segs[0], segs[1:]

	switch n := node.(type) {
	case map[string]any:
		if len(rest) == 0 {
			n[key] = value
		} else {
			n[key] = setPath(n[key], rest, value, grow)
		}
		return n
	case []any:
		if key == "-" {
			if len(rest) > 0 {
				return n
			}
			return append(n, value)
		}
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			return n
		}
		if len(rest) == 0 && grow && i == len(n) {
			return append(n, value)
		}
		if i >= len(n) {
			return n
		}
		if len(rest) == 0 {
			n[i] = value
		} else {
			n[i] = setPath(n[i], rest, value, grow)
		}
		return n
	default:
		return setPath(map[string]any{}, segs, value, grow)
	}
}

func removePath(node any, segs []string) any {
	if len(segs) == 0 {
		return nil
	}
	key, rest := segs[0], segs[1:]

	switch n := node.(type) {
	case map[string]any:
		child, ok := n[key]
		if !ok {
			return n
		}
		if len(rest) == 0 {
			delete(n, key)
		} else {
			n[key] = removePath(child, rest)
		}
		return n
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return n
		}
		if len(rest) == 0 {
			return slices.Delete(n, i, i+1)
		}
		n[i] = removePath(n[i], rest)
		return n
	default:
		return node
	}
}

// CloneValue deep-copies the JSON-shaped containers of v. Scalars are shared.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = CloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = CloneValue(child)
		}
		return out
	default:
		return v
	}
}
