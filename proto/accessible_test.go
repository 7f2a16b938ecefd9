package proto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func sampleTree() Accessible {
	text := "OK"
	return Accessible{
		Path:  Path{},
		Name:  "desktop",
		Role:  "DESKTOP",
		Count: 2,
		Children: []Accessible{
			{
				Path:  Path{0},
				Index: 0,
				Name:  "gedit",
				Role:  "APPLICATION",
				Count: 1,
				Children: []Accessible{
					{Path: Path{0, 0}, Index: 0, Name: "button", Role: "PUSH_BUTTON", Text: &text, Actions: []string{"click"}},
				},
			},
			{Path: Path{1}, Index: 1, Name: "nautilus", Role: "APPLICATION"},
		},
	}
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("/0/3/1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !p.Equal(Path{0, 3, 1}) {
		t.Errorf("Expected /0/3/1, got %s", p)
	}
	if p.String() != "/0/3/1" {
		t.Errorf("Expected string /0/3/1, got %s", p.String())
	}

	root, err := ParsePath("/")
	if err != nil || len(root) != 0 {
		t.Errorf("Expected empty root path, got %v (%v)", root, err)
	}

	if _, err := ParsePath("/0/x"); err == nil {
		t.Error("Expected error for non-numeric element")
	}
	if _, err := ParsePath("/-1"); err == nil {
		t.Error("Expected error for negative element")
	}
}

func TestPath_ParentChild(t *testing.T) {
	p := Path{2, 5}
	child := p.Child(7)
	if !child.Equal(Path{2, 5, 7}) {
		t.Errorf("Expected /2/5/7, got %s", child)
	}
	if !child.Parent().Equal(p) {
		t.Errorf("Expected parent %s, got %s", p, child.Parent())
	}
	// Child must not alias the receiver.
	other := p.Child(8)
	if child[2] != 7 || other[2] != 8 {
		t.Error("Expected children of the same path to be independent")
	}
	if len(Path{}.Parent()) != 0 {
		t.Error("Expected parent of root to be root")
	}
}

func TestAccessible_Find(t *testing.T) {
	tree := sampleTree()

	node, err := tree.Find(Path{0, 0})
	if err != nil {
		t.Fatalf("Expected node, got %v", err)
	}
	if node.Name != "button" {
		t.Errorf("Expected button, got %s", node.Name)
	}

	if _, err := tree.Find(Path{3}); !errors.Is(err, ErrNoSuchAccessible) {
		t.Errorf("Expected ErrNoSuchAccessible, got %v", err)
	}
}

func TestAccessible_Trim(t *testing.T) {
	tree := sampleTree()

	shallow := tree.Trim(0, false)
	if len(shallow.Children) != 0 {
		t.Errorf("Expected no children at depth 0, got %d", len(shallow.Children))
	}
	if shallow.Count != 2 {
		t.Errorf("Expected count to be preserved, got %d", shallow.Count)
	}

	one := tree.Trim(1, false)
	if len(one.Children) != 2 || len(one.Children[0].Children) != 0 {
		t.Errorf("Expected exactly one level of children, got %+v", one)
	}

	full := tree.Trim(-1, true)
	button := full.Children[0].Children[0]
	if button.Text == nil || *button.Text != "OK" {
		t.Errorf("Expected text to be kept with all, got %v", button.Text)
	}

	bare := tree.Trim(-1, false)
	if bare.Children[0].Children[0].Text != nil {
		t.Error("Expected text to be dropped without all")
	}
}

func TestAccessible_Validate(t *testing.T) {
	tree := sampleTree()
	if err := tree.Validate(); err != nil {
		t.Errorf("Expected valid tree, got %v", err)
	}

	tree.Children[1].Path = Path{0, 1}
	if err := tree.Validate(); err == nil {
		t.Error("Expected error for misplaced child")
	}

	bad := sampleTree()
	bad.Count = 1
	if err := bad.Validate(); err == nil {
		t.Error("Expected error when children exceed count")
	}
}

func TestDump_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	err := WriteDump(&buf, Dump{Device: "desktop-1", Accessible: sampleTree()})
	if err != nil {
		t.Fatalf("Failed to write dump: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "<?xml") {
		t.Error("Expected dump to start with an XML header")
	}

	dump, err := ReadDump(&buf)
	if err != nil {
		t.Fatalf("Failed to read dump: %v", err)
	}
	if dump.Version != DumpVersion || dump.Device != "desktop-1" {
		t.Errorf("Unexpected dump header: %+v", dump)
	}
	node, err := dump.Accessible.Find(Path{0, 0})
	if err != nil {
		t.Fatalf("Expected button in dump, got %v", err)
	}
	if len(node.Actions) != 1 || node.Actions[0] != "click" {
		t.Errorf("Expected actions [click], got %v", node.Actions)
	}
}

func TestReadDump_Invalid(t *testing.T) {
	if _, err := ReadDump(strings.NewReader("<dump><accessible")); !IsCodecError(err) {
		t.Errorf("Expected codec error, got %v", err)
	}
}
