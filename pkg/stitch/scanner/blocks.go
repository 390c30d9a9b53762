package scanner

// MatchClose returns the index in dirs of the BlockClose that pairs with the
// BlockOpen at dirs[open], counting nested blocks of the same kind. Blocks of
// other kinds do not affect the count. It returns -1 when dirs[open] is not
// a BlockOpen or the block is never closed.
func MatchClose(dirs []Directive, open int) int {
	if open < 0 || open >= len(dirs) {
		return -1
	}
	o, ok := dirs[open].(*BlockOpen)
	if !ok {
		return -1
	}
	depth := 0
	for i := open + 1; i < len(dirs); i++ {
		switch d := dirs[i].(type) {
		case *BlockOpen:
			if d.Kind == o.Kind {
				depth++
			}
		case *BlockClose:
			if d.Kind != o.Kind {
				continue
			}
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// Block is a matched open/close pair.
type Block struct {
	Open  *BlockOpen
	Close *BlockClose
	// OpenIndex and CloseIndex are positions in the directive slice.
	OpenIndex  int
	CloseIndex int
}

// Body returns the text between the open and close tags.
func (b Block) Body(doc string) string {
	return doc[b.Open.End:b.Close.Start]
}

// TopLevelBlocks returns the outermost matched blocks of the given kind, in
// document order. Unmatched openers are skipped.
func TopLevelBlocks(dirs []Directive, kind string) []Block {
	var blocks []Block
	for i := 0; i < len(dirs); i++ {
		o, ok := dirs[i].(*BlockOpen)
		if !ok || o.Kind != kind {
			continue
		}
		j := MatchClose(dirs, i)
		if j < 0 {
			continue
		}
		blocks = append(blocks, Block{
			Open:       o,
			Close:      dirs[j].(*BlockClose),
			OpenIndex:  i,
			CloseIndex: j,
		})
		i = j
	}
	return blocks
}

// FragmentIncludes returns the fragment include directives in doc.
func FragmentIncludes(doc string) []*FragmentInclude {
	var out []*FragmentInclude
	for _, d := range Scan(doc) {
		if f, ok := d.(*FragmentInclude); ok {
			out = append(out, f)
		}
	}
	return out
}

// Bindings returns the data binding directives in doc, in position order.
func Bindings(doc string) []*DataBinding {
	var out []*DataBinding
	for _, d := range Scan(doc) {
		if b, ok := d.(*DataBinding); ok {
			out = append(out, b)
		}
	}
	return out
}

// Assignments returns the let/assign statements in doc, in document order.
func Assignments(doc string) []*Assignment {
	var out []*Assignment
	for _, d := range Scan(doc) {
		if a, ok := d.(*Assignment); ok {
			out = append(out, a)
		}
	}
	return out
}
