package difftree

import (
	"fmt"
	"io"
	"strings"

	"github.com/tonimelisma/fsync/internal/fspath"
)

// Dump writes a human-readable recursive listing of the tree to w, starting
// at root, one line per entry: its presence tag ("S"/"L"/"R", "C" in place
// of "S" when conflicting) followed by its path, indented by depth.
func (t *Tree) Dump(w io.Writer, root fspath.Path) error {
	return t.dump(w, root, 0)
}

func (t *Tree) dump(w io.Writer, path fspath.Path, depth int) error {
	n, ok := t.Entry(path)
	if !ok {
		return notFound(path)
	}

	tag := n.Entry.Presence.Tag()
	if n.Entry.IsConflict() {
		tag = "C"
	}

	label := path.Display()
	if path.IsRoot() {
		label = "/"
	}

	if _, err := fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", depth), tag, label); err != nil {
		return err
	}

	for _, child := range n.Children {
		if err := t.dump(w, path.Join(child), depth+1); err != nil {
			return err
		}
	}

	return nil
}

// String renders the whole tree as returned by Dump, for debugging and
// tests.
func (t *Tree) String() string {
	var sb strings.Builder
	_ = t.Dump(&sb, fspath.New("/"))

	return sb.String()
}
