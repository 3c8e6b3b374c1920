package classfile

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/tools/txtar"
)

// ErrNotFound is returned by a ClassSource that has no description for
// the requested name.
var ErrNotFound = errors.New("class description not found")

// ClassSource finds class descriptions by dotted name.
type ClassSource interface {
	Find(name string) (*Class, error)
}

// MapSource is an in-memory ClassSource.
type MapSource map[string]*Class

// NewMapSource indexes the given classes by name.
func NewMapSource(classes ...*Class) MapSource {
	s := make(MapSource, len(classes))
	s.Add(classes...)
	return s
}

// Add indexes more classes, replacing earlier descriptions of the same name.
func (s MapSource) Add(classes ...*Class) {
	for _, c := range classes {
		s[c.Name] = c
	}
}

func (s MapSource) Find(name string) (*Class, error) {
	if c, ok := s[name]; ok {
		return c, nil
	}
	return nil, errors.Wrap(ErrNotFound, name)
}

// Names returns the class names in sorted order.
func (s MapSource) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DirSource reads descriptions from a directory tree: binary classes at
// their package path (a/b/C.class) and any number of .toml description
// files. The tree is scanned once, on first lookup.
type DirSource struct {
	Dir string

	once    sync.Once
	classes MapSource
	err     error
}

func (d *DirSource) Find(name string) (*Class, error) {
	d.once.Do(d.scan)
	if d.err != nil {
		return nil, d.err
	}
	return d.classes.Find(name)
}

// Classes returns every description in the tree.
func (d *DirSource) Classes() (MapSource, error) {
	d.once.Do(d.scan)
	return d.classes, d.err
}

func (d *DirSource) scan() {
	d.classes = make(MapSource)
	d.err = filepath.Walk(d.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".class":
			c, err := ReadClassFile(path)
			if err != nil {
				return err
			}
			d.classes.Add(c)
		case ".toml":
			classes, err := LoadTOMLFile(path)
			if err != nil {
				return err
			}
			d.classes.Add(classes...)
		}
		return nil
	})
}

// ReadClassFile parses the binary class file at path.
func ReadClassFile(path string) (*Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// LoadArchive reads the .toml and .class members of a txtar archive.
// Other members are ignored.
func LoadArchive(a *txtar.Archive) (MapSource, error) {
	s := make(MapSource)
	for _, f := range a.Files {
		switch {
		case strings.HasSuffix(f.Name, ".toml"):
			classes, err := LoadTOML(bytes.NewReader(f.Data))
			if err != nil {
				return nil, errors.Wrap(err, f.Name)
			}
			s.Add(classes...)
		case strings.HasSuffix(f.Name, ".class"):
			c, err := Parse(bytes.NewReader(f.Data))
			if err != nil {
				return nil, errors.Wrap(err, f.Name)
			}
			s.Add(c)
		}
	}
	return s, nil
}
