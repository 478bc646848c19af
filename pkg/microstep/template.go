// Package microstep decomposes multi-field stages into a queue of atomic prompts.
//
// A Template describes either a matrix (Rows repeating sections, each with the same
// Columns) or a bounded list (Rows slots of one value). The matrix is flattened
// row-major into an address queue; each address maps to one dotted field key.
// When the queue is exhausted (or a list is truncated with the sentinel token) the
// captured sub-fields are joined into a composite draft for confirmation.
package microstep

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aretw0/blueprint/pkg/domain"
)

// Layout selects how a template is flattened.
type Layout string

const (
	LayoutMatrix Layout = "matrix"
	LayoutList   Layout = "list"
)

// Column is one sub-field repeated in every row of a matrix.
type Column struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
}

// Template describes the sub-step decomposition of a stage.
type Template struct {
	// Section prefixes every generated key (e.g. "learning_goals").
	Section  string   `json:"section" yaml:"section"`
	Layout   Layout   `json:"layout" yaml:"layout"`
	Rows     int      `json:"rows" yaml:"rows"`
	RowLabel string   `json:"row_label" yaml:"row_label"`
	Columns  []Column `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Validate reports structural problems with the template.
func (t Template) Validate() error {
	var errs []error
	if t.Section == "" {
		errs = append(errs, errors.New("section is required"))
	}
	if t.Rows < 1 {
		errs = append(errs, fmt.Errorf("rows must be >= 1, got %d", t.Rows))
	}
	switch t.Layout {
	case LayoutMatrix:
		if len(t.Columns) == 0 {
			errs = append(errs, errors.New("matrix layout needs at least one column"))
		}
		seen := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" || seen[c.Name] {
				errs = append(errs, fmt.Errorf("invalid or duplicate column %q", c.Name))
			}
			seen[c.Name] = true
		}
	case LayoutList:
		if len(t.Columns) > 0 {
			errs = append(errs, errors.New("list layout takes no columns"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown layout %q", t.Layout))
	}
	return errors.Join(errs...)
}

func (t Template) width() int {
	if t.Layout == LayoutMatrix {
		return len(t.Columns)
	}
	return 1
}

// Len is the number of addresses in the flattened queue.
func (t Template) Len() int {
	return t.Rows * t.width()
}

// Key returns the dotted field key for a queue index.
// Matrix: "<section>.<row>.<column>"; list: "<section>.<row>" (rows are 1-based).
func (t Template) Key(index int) string {
	row, col := index/t.width(), index%t.width()
	key := t.Section + "." + strconv.Itoa(row+1)
	if t.Layout == LayoutMatrix {
		key += "." + t.Columns[col].Name
	}
	return key
}

// Label returns a human label for a queue index, e.g. "Goal 2 / Evidence".
func (t Template) Label(index int) string {
	row, col := index/t.width(), index%t.width()
	label := t.RowLabel
	if label == "" {
		label = "Item"
	}
	label += " " + strconv.Itoa(row+1)
	if t.Layout == LayoutMatrix {
		name := t.Columns[col].Label
		if name == "" {
			name = t.Columns[col].Name
		}
		label += " / " + name
	}
	return label
}

// Keys returns every sub-field key in queue order.
func (t Template) Keys() []string {
	keys := make([]string, t.Len())
	for i := range keys {
		keys[i] = t.Key(i)
	}
	return keys
}

// CompositeKey is the key the confirmed composite draft is committed under.
func (t Template) CompositeKey() string {
	return t.Section + ".value"
}
