package heap

import (
	"fmt"
	"strings"
)

// Page is one mapped chunk of the shared arena's address space. Allocations
// never straddle two pages. Pages only do the accounting; the bytes of an
// allocation live in its own backing slice.
type Page struct {
	Addr uint64
	Size uint64
}

func (p *Page) String() string {
	return fmt.Sprintf("0x%x-0x%x", p.Addr, p.Addr+p.Size)
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint64) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search to find index of first region containing addr, if any, else -1
func (p Pages) bsearch(addr uint64) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else if addr < e.Addr {
			r = mid - 1
		}
	}
	return -1
}

func (p Pages) Find(addr uint64) *Page {
	i := p.bsearch(addr)
	if i >= 0 {
		return p[i]
	}
	return nil
}

// span is a free range inside a single page.
type span struct {
	Addr, Size uint64
	page       *Page
}

func (s span) end() uint64 { return s.Addr + s.Size }

type spans []span

// insertion index keeping spans sorted by address
func (s spans) search(addr uint64) int {
	l, r := 0, len(s)
	for l < r {
		mid := (l + r) / 2
		if s[mid].Addr < addr {
			l = mid + 1
		} else {
			r = mid
		}
	}
	return l
}

// insert adds a free range and merges it with neighbours on the same page.
func (s spans) insert(n span) spans {
	i := s.search(n.Addr)
	s = append(s, span{})
	copy(s[i+1:], s[i:])
	s[i] = n
	if i+1 < len(s) && s[i+1].page == n.page && s[i].end() == s[i+1].Addr {
		s[i].Size += s[i+1].Size
		s = append(s[:i+1], s[i+2:]...)
	}
	if i > 0 && s[i-1].page == n.page && s[i-1].end() == s[i].Addr {
		s[i-1].Size += s[i].Size
		s = append(s[:i], s[i+1:]...)
	}
	return s
}
