// Package jsonmap reads and mutates decoded JSON trees by dotted path.
// A path is a possibly-empty dotted string; each segment is either an
// object key or a decimal array index. At an array, a segment that parses
// as an integer selects the element; everywhere else the segment is a
// string key, even when it looks numeric.
package jsonmap

import (
	"fmt"
	"strconv"
	"strings"
)

// Split turns a dotted path into its segments. An empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get resolves path inside root. It never fails: any missing or
// mistyped intermediate step yields nil.
func Get(root any, path string) any {
	cur := root
	for _, seg := range Split(path) {
		switch node := cur.(type) {
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil
			}
			cur = next
		default:
			return nil
		}
	}
	return cur
}

// Set replaces the scalar at path with value. The root must be an object
// or an array. With an empty path the root itself is replaced, but only
// by a value of the same kind. With a non-empty path the terminal node
// must exist, be a scalar and have the same kind as value.
func Set(root *any, path string, value any) error {
	if root == nil {
		return ErrNilRoot
	}
	if !isContainer(*root) {
		return fmt.Errorf("%w: root is %s", ErrTypeMismatch, kindOf(*root))
	}
	segs := Split(path)
	if len(segs) == 0 {
		if kindOf(*root) != kindOf(value) {
			return fmt.Errorf("%w: cannot replace %s root with %s", ErrTypeMismatch, kindOf(*root), kindOf(value))
		}
		*root = value
		return nil
	}
	return setIn(*root, segs, value, path)
}

func setIn(node any, segs []string, value any, fullPath string) error {
	seg, rest := segs[0], segs[1:]

	switch container := node.(type) {
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(container) {
			return fmt.Errorf("%w: index %q in path %q", ErrNotFound, seg, fullPath)
		}
		if len(rest) > 0 {
			return setIn(container[idx], rest, value, fullPath)
		}
		if isContainer(container[idx]) {
			return fmt.Errorf("%w: terminal %q in path %q is not a scalar", ErrTypeMismatch, seg, fullPath)
		}
		if kindOf(container[idx]) != kindOf(value) {
			return fmt.Errorf("%w: %s != %s at %q", ErrTypeMismatch, kindOf(container[idx]), kindOf(value), fullPath)
		}
		container[idx] = value
		return nil
	case map[string]any:
		cur, ok := container[seg]
		if !ok {
			return fmt.Errorf("%w: key %q in path %q", ErrNotFound, seg, fullPath)
		}
		if len(rest) > 0 {
			return setIn(cur, rest, value, fullPath)
		}
		if isContainer(cur) {
			return fmt.Errorf("%w: terminal %q in path %q is not a scalar", ErrTypeMismatch, seg, fullPath)
		}
		if kindOf(cur) != kindOf(value) {
			return fmt.Errorf("%w: %s != %s at %q", ErrTypeMismatch, kindOf(cur), kindOf(value), fullPath)
		}
		container[seg] = value
		return nil
	default:
		return fmt.Errorf("%w: step %q in path %q is a %s", ErrTypeMismatch, seg, fullPath, kindOf(node))
	}
}

// Add inserts or extends a value at path. An empty path appends to an
// array root. A missing object key at the terminal step inserts; an
// existing array terminal appends; an existing object terminal merges
// the keys of an object value; a scalar terminal cannot be extended.
func Add(root *any, path string, value any) error {
	if root == nil {
		return ErrNilRoot
	}
	segs := Split(path)
	if len(segs) == 0 {
		switch container := (*root).(type) {
		case []any:
			*root = append(container, value)
			return nil
		case map[string]any:
			return fmt.Errorf("%w: empty path on object root", ErrBadPath)
		default:
			return fmt.Errorf("%w: root is %s", ErrTypeMismatch, kindOf(*root))
		}
	}
	if !isContainer(*root) {
		return fmt.Errorf("%w: root is %s", ErrTypeMismatch, kindOf(*root))
	}
	updated, err := addIn(*root, segs, value, path)
	if err != nil {
		return err
	}
	*root = updated
	return nil
}

func addIn(node any, segs []string, value any, fullPath string) (any, error) {
	seg, rest := segs[0], segs[1:]

	switch container := node.(type) {
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(container) {
			return nil, fmt.Errorf("%w: index %q in path %q", ErrNotFound, seg, fullPath)
		}
		if len(rest) > 0 {
			updated, err := addIn(container[idx], rest, value, fullPath)
			if err != nil {
				return nil, err
			}
			container[idx] = updated
			return container, nil
		}
		// terminal step inside an array
		switch target := container[idx].(type) {
		case []any:
			container[idx] = append(target, value)
			return container, nil
		case map[string]any:
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: cannot insert %s into object at %q", ErrCannotExtendScalar, kindOf(value), fullPath)
			}
			for k, v := range obj {
				target[k] = v
			}
			return container, nil
		default:
			return nil, fmt.Errorf("%w: terminal %q in path %q", ErrCannotExtendScalar, seg, fullPath)
		}
	case map[string]any:
		if len(rest) > 0 {
			cur, ok := container[seg]
			if !ok {
				return nil, fmt.Errorf("%w: key %q in path %q", ErrNotFound, seg, fullPath)
			}
			updated, err := addIn(cur, rest, value, fullPath)
			if err != nil {
				return nil, err
			}
			container[seg] = updated
			return container, nil
		}
		cur, ok := container[seg]
		if !ok {
			container[seg] = value
			return container, nil
		}
		switch target := cur.(type) {
		case []any:
			container[seg] = append(target, value)
			return container, nil
		case map[string]any:
			// Insert the value under the path's last segment exactly once.
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: cannot insert %s into object at %q", ErrCannotExtendScalar, kindOf(value), fullPath)
			}
			for k, v := range obj {
				target[k] = v
			}
			return container, nil
		default:
			return nil, fmt.Errorf("%w: terminal %q in path %q", ErrCannotExtendScalar, seg, fullPath)
		}
	default:
		return nil, fmt.Errorf("%w: step %q in path %q is a %s", ErrTypeMismatch, seg, fullPath, kindOf(node))
	}
}

// Remove deletes the node at path. Removing an array element shifts the
// rest down. A missing object key reports removed=false and no error so
// the caller can warn. An empty path and nil intermediates fail.
func Remove(root *any, path string) (bool, error) {
	if root == nil {
		return false, ErrNilRoot
	}
	segs := Split(path)
	if len(segs) == 0 {
		return false, fmt.Errorf("%w: empty path", ErrBadPath)
	}
	updated, removed, err := removeIn(*root, segs, path)
	if err != nil {
		return false, err
	}
	*root = updated
	return removed, nil
}

func removeIn(node any, segs []string, fullPath string) (any, bool, error) {
	seg, rest := segs[0], segs[1:]

	switch container := node.(type) {
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(container) {
			return nil, false, fmt.Errorf("%w: index %q in path %q", ErrNotFound, seg, fullPath)
		}
		if len(rest) > 0 {
			updated, removed, err := removeIn(container[idx], rest, fullPath)
			if err != nil {
				return nil, false, err
			}
			container[idx] = updated
			return container, removed, nil
		}
		return append(container[:idx], container[idx+1:]...), true, nil
	case map[string]any:
		if len(rest) > 0 {
			cur, ok := container[seg]
			if !ok || cur == nil {
				return nil, false, fmt.Errorf("%w: step %q in path %q", ErrNotFound, seg, fullPath)
			}
			updated, removed, err := removeIn(cur, rest, fullPath)
			if err != nil {
				return nil, false, err
			}
			container[seg] = updated
			return container, removed, nil
		}
		if _, ok := container[seg]; !ok {
			return container, false, nil
		}
		delete(container, seg)
		return container, true, nil
	default:
		return nil, false, fmt.Errorf("%w: step %q in path %q is a %s", ErrTypeMismatch, seg, fullPath, kindOf(node))
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// kindOf reports the JSON kind of a decoded value. Integers and floats
// share the number kind regardless of whether the tree came from the
// JSON or the YAML decoder.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	default:
		return "unknown"
	}
}
