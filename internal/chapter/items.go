package chapter

import "sort"

// ItemKind distinguishes chapters from synthetic dividers.
type ItemKind string

const (
	KindChapter ItemKind = "chapter"
	KindDivider ItemKind = "divider"
)

// Item is one page of the reader: either a chapter or a divider between two
// chapters. A divider with a nil Next marks the end of the chapter list.
type Item struct {
	Kind    ItemKind `json:"kind"`
	Chapter *Chapter `json:"chapter,omitempty"`
	Prev    *Chapter `json:"prev,omitempty"`
	Next    *Chapter `json:"next,omitempty"`
}

// ChapterItem wraps a chapter as a reader item.
func ChapterItem(c Chapter) Item {
	return Item{Kind: KindChapter, Chapter: &c}
}

// DividerItem builds a divider. Pass nil next for the terminal divider.
func DividerItem(prev Chapter, next *Chapter) Item {
	return Item{Kind: KindDivider, Prev: &prev, Next: next}
}

// IsTerminal reports whether the item is the "no more chapters" divider.
func (i Item) IsTerminal() bool {
	return i.Kind == KindDivider && i.Next == nil
}

// BuildItems interleaves dividers between chapters.
//
// With dividers enabled, a terminal divider follows the last chapter and a
// divider sits between every adjacent pair, so n chapters yield 2n items.
func BuildItems(chapters []Chapter, showDividers bool) []Item {
	items := make([]Item, 0, 2*len(chapters))
	for _, c := range chapters {
		items = append(items, ChapterItem(c))
	}
	if !showDividers || len(chapters) == 0 {
		return items
	}

	items = append(items, DividerItem(chapters[len(chapters)-1], nil))

	// Walk down so earlier insert points stay valid.
	for i := len(chapters) - 1; i >= 1; i-- {
		next := chapters[i]
		divider := DividerItem(chapters[i-1], &next)
		items = append(items, Item{})
		copy(items[i+1:], items[i:])
		items[i] = divider
	}
	return items
}

// IndexOf returns the position of the chapter item with the given id, or -1.
func IndexOf(items []Item, chapterID int) int {
	for i, it := range items {
		if it.Kind == KindChapter && it.Chapter.ID == chapterID {
			return i
		}
	}
	return -1
}

// ResumeIndex picks the item the reader opens on.
//
// A positive initialChapterID wins when present. Otherwise the chapters are
// scanned in source order for the first one that is not read, or, with
// resumeFirstUnread, the first one still unread.
func ResumeIndex(items []Item, initialChapterID int, resumeFirstUnread bool) int {
	if initialChapterID > 0 {
		if idx := IndexOf(items, initialChapterID); idx >= 0 {
			return idx
		}
	}

	var candidates []Chapter
	for _, it := range items {
		if it.Kind == KindChapter {
			candidates = append(candidates, *it.Chapter)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Order < candidates[j].Order
	})

	for _, c := range candidates {
		if resumeFirstUnread {
			if c.ReadingStatus == StatusUnread {
				return IndexOf(items, c.ID)
			}
			continue
		}
		if c.ReadingStatus != StatusRead {
			return IndexOf(items, c.ID)
		}
	}
	return -1
}
