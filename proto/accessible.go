package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Path addresses an accessible by child indices from the root. The empty
// path is the root itself.
type Path []int

func ParsePath(s string) (Path, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid path element %q in %q", part, s)
		}
		p = append(p, n)
	}
	return p, nil
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.Itoa(n)
	}
	return "/" + strings.Join(parts, "/")
}

func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[:len(p)-1:len(p)-1]
}

func (p Path) Child(index int) Path {
	c := make(Path, len(p), len(p)+1)
	copy(c, p)
	return append(c, index)
}

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type Point struct {
	X int `xml:"x,attr"`
	Y int `xml:"y,attr"`
}

type Size struct {
	Width  int `xml:"width,attr"`
	Height int `xml:"height,attr"`
}

type Attribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type Relation struct {
	Type    string `xml:"type,attr"`
	Targets []Path `xml:"target"`
}

// Accessible describes one node of a device's accessibility tree.
type Accessible struct {
	Path       Path         `xml:"path,attr"`
	Index      int          `xml:"index,attr"`
	Name       string       `xml:"name,attr,omitempty"`
	Role       string       `xml:"role,attr,omitempty"`
	Count      int          `xml:"count,attr"`
	States     []string     `xml:"state,omitempty"`
	Actions    []string     `xml:"action,omitempty"`
	Text       *string      `xml:"text,omitempty"`
	Value      *float64     `xml:"value,omitempty"`
	Position   *Point       `xml:"position,omitempty"`
	Size       *Size        `xml:"size,omitempty"`
	Attributes []Attribute  `xml:"attribute,omitempty"`
	Relations  []Relation   `xml:"relation,omitempty"`
	Children   []Accessible `xml:"accessible,omitempty"`
}

func (a *Accessible) Validate() error {
	if a.Count < 0 {
		return fmt.Errorf("accessible %s has negative child count", a.Path)
	}
	if len(a.Children) > a.Count {
		return fmt.Errorf("accessible %s lists %d children but count is %d", a.Path, len(a.Children), a.Count)
	}
	if len(a.Path) > 0 && a.Path[len(a.Path)-1] != a.Index {
		return fmt.Errorf("accessible %s has index %d not matching its path", a.Path, a.Index)
	}
	for i := range a.Children {
		child := &a.Children[i]
		if !child.Path.Parent().Equal(a.Path) {
			return fmt.Errorf("accessible %s is not a child of %s", child.Path, a.Path)
		}
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

var ErrNoSuchAccessible = errors.New("no such accessible")

// Find walks down from a to the node at path. The path is absolute and must
// start with a's own path.
func (a *Accessible) Find(path Path) (*Accessible, error) {
	if len(path) < len(a.Path) || !path[:len(a.Path)].Equal(a.Path) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchAccessible, path)
	}
	node := a
	for _, idx := range path[len(a.Path):] {
		var next *Accessible
		for i := range node.Children {
			if node.Children[i].Index == idx {
				next = &node.Children[i]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchAccessible, path)
		}
		node = next
	}
	return node, nil
}

// Trim returns a copy limited to depth levels of children (negative depth
// keeps the whole subtree). Without all, only identity fields are kept.
func (a *Accessible) Trim(depth int, all bool) Accessible {
	out := Accessible{
		Path:  append(Path{}, a.Path...),
		Index: a.Index,
		Name:  a.Name,
		Role:  a.Role,
		Count: a.Count,
	}
	if all {
		out.States = append([]string(nil), a.States...)
		out.Actions = append([]string(nil), a.Actions...)
		out.Text = a.Text
		out.Value = a.Value
		out.Position = a.Position
		out.Size = a.Size
		out.Attributes = append([]Attribute(nil), a.Attributes...)
		out.Relations = append([]Relation(nil), a.Relations...)
	}
	if depth != 0 {
		for i := range a.Children {
			out.Children = append(out.Children, a.Children[i].Trim(depth-1, all))
		}
	}
	return out
}
