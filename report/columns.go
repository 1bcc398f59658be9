package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nextcaller/sip-dialogs/attr"
	"gopkg.in/yaml.v3"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrUnknownColumn is returned for a column file naming an attribute
	// that doesn't exist.
	ErrUnknownColumn = constError("unknown column")
	// ErrNoColumns is returned for a column file that selects nothing.
	ErrNoColumns = constError("no columns selected")
)

// Column is one column of the call list.  A zero Width uses the attribute's
// preferred width.
type Column struct {
	Attr  attr.Kind
	Width int
}

// Columns is an ordered column selection.
type Columns []Column

// DefaultColumns is the selection used when no column file exists.
func DefaultColumns() Columns {
	return Columns{
		{Attr: attr.CallIndex},
		{Attr: attr.Method},
		{Attr: attr.SIPFrom},
		{Attr: attr.SIPTo},
		{Attr: attr.MsgCount},
		{Attr: attr.SrcHost},
		{Attr: attr.DstHost},
		{Attr: attr.CallState},
	}
}

type columnYAML struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width,omitempty"`
}

type columnFile struct {
	Columns []columnYAML `yaml:"columns"`
}

func (c Column) width() int {
	if c.Width > 0 {
		return c.Width
	}
	return c.Attr.Width()
}

// ParseColumns decodes a YAML column selection:
//
//	columns:
//	  - name: index
//	  - name: sipfrom
//	    width: 30
func ParseColumns(data []byte) (Columns, error) {
	var f columnFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing column yaml: %w", err)
	}
	if len(f.Columns) == 0 {
		return nil, ErrNoColumns
	}
	cols := make(Columns, 0, len(f.Columns))
	for _, c := range f.Columns {
		k, ok := attr.ByName(c.Name)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, c.Name)
		}
		cols = append(cols, Column{Attr: k, Width: c.Width})
	}
	return cols, nil
}

// LoadColumns reads the column selection at path, returning the defaults
// if the file doesn't exist.
func LoadColumns(path string) (Columns, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultColumns(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading column file: %w", err)
	}
	cols, err := ParseColumns(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return cols, nil
}

// Marshal encodes the selection as YAML.
func (cols Columns) Marshal() ([]byte, error) {
	f := columnFile{Columns: make([]columnYAML, 0, len(cols))}
	for _, c := range cols {
		f.Columns = append(f.Columns, columnYAML{Name: c.Attr.Name(), Width: c.Width})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("marshaling columns to yaml: %w", err)
	}
	return data, nil
}

// Save writes the selection to path, creating its directory.  The file is
// replaced atomically.
func (cols Columns) Save(path string) error {
	data, err := cols.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating column directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing column file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing column file: %w", err)
	}
	return nil
}
