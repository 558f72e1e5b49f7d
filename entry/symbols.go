package entry

import (
	"strings"

	"github.com/arloliu/fwpack/elfsym"
	"github.com/arloliu/fwpack/errs"
)

// FindByName returns the first entry with the given name below s,
// searching each level completely before descending.
func (s *Section) FindByName(name string) Entry {
	queue := s.Children()
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if e.EntryBase().name == name {
			return e
		}
		if sl, ok := e.(sectionLike); ok {
			queue = append(queue, sl.AsSection().Children()...)
		}
	}

	return nil
}

// LookupSymbol resolves a layout reference against the whole image that
// contains s. When no candidate entry exists, an optional lookup reports
// found == false and logs a warning.
func (s *Section) LookupSymbol(ref elfsym.Ref, optional bool) (uint64, bool, error) {
	root := &s.Image().Section
	for _, name := range ref.Candidates() {
		e := root.FindByName(name)
		if e == nil {
			continue
		}

		b := e.EntryBase()
		switch ref.Prop {
		case elfsym.PropOffset:
			return b.offset, true, nil
		case elfsym.PropSize:
			return b.size, true, nil
		case elfsym.PropImagePos:
			return b.imagePos, true, nil
		default:
			return 0, false, s.Fail(errs.ErrInvalidSymbol, "Symbol '%s': unknown property '%s'", ref.Symbol, ref.Prop)
		}
	}

	if optional {
		s.ctx.logger.Warn("optional symbol not resolved", "symbol", ref.Symbol, "entry", ref.Entry,
			"section", s.Path())
		return 0, false, nil
	}

	names := make([]string, 0, len(root.children))
	for _, child := range root.Children() {
		names = append(names, child.EntryBase().name)
	}

	return 0, false, s.Fail(errs.ErrEntryNotFound, "Symbol '%s': Entry '%s' not found in list (%s)",
		ref.Symbol, ref.Entry, strings.Join(names, ","))
}

// Resolver returns an elfsym.Resolver backed by LookupSymbol.
func (s *Section) Resolver() elfsym.Resolver {
	return elfsym.ResolverFunc(s.LookupSymbol)
}
