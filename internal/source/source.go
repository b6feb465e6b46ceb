// Package source serves chapter passages from a local library directory.
// Every subdirectory of the library is a novel and every supported file in
// it, sorted by name, is a chapter.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgallion1/readerd/internal/chapter"
	"github.com/dgallion1/readerd/internal/store"
)

// ErrUnsupported is returned for chapter files the library cannot read.
var ErrUnsupported = errors.New("unsupported chapter format")

// chapterIDStride separates the chapter id ranges of different novels.
const chapterIDStride = 100000

// typeByExt maps chapter file extensions to the chapter type the renderer
// uses. Word documents are converted to plain text on fetch.
var typeByExt = map[string]chapter.Type{
	".txt":      chapter.TypeString,
	".docx":     chapter.TypeString,
	".md":       chapter.TypeMarkdown,
	".markdown": chapter.TypeMarkdown,
	".html":     chapter.TypeHTML,
	".htm":      chapter.TypeHTML,
	".xhtml":    chapter.TypeHTML,
	".pdf":      chapter.TypePDF,
	".epub":     chapter.TypeEPUB,
}

// TypeForFile returns the chapter type of a file by its extension.
func TypeForFile(name string) (chapter.Type, error) {
	ext := strings.ToLower(filepath.Ext(name))
	t, ok := typeByExt[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	return t, nil
}

// Library reads novels from a directory tree.
type Library struct {
	root string
	log  *slog.Logger
}

func NewLibrary(root string, log *slog.Logger) *Library {
	return &Library{root: filepath.Clean(root), log: log}
}

// Root is the library directory.
func (l *Library) Root() string { return l.root }

// Import scans the library and registers every novel in st. Reading state of
// chapters already known under the same id and file is kept.
func (l *Library) Import(ctx context.Context, st *store.Store) ([]store.Novel, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	var novels []store.Novel
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return novels, err
		}
		novel, chapters, err := l.scanNovel(i+1, dir)
		if err != nil {
			l.log.Warn("skipping novel", "dir", dir, "error", err)
			continue
		}
		chapters = mergeState(ctx, st, chapters)
		if err := st.PutNovel(ctx, novel, chapters); err != nil {
			return novels, fmt.Errorf("store novel %s: %w", dir, err)
		}
		l.log.Info("imported novel", "novel_id", novel.ID, "title", novel.Title,
			"type", novel.Type, "chapters", len(chapters))
		novels = append(novels, novel)
	}
	return novels, nil
}

// scanNovel lists the chapter files of one novel directory. The first
// supported file decides the novel's chapter type; files of other types are
// ignored.
func (l *Library) scanNovel(id int, dir string) (store.Novel, []chapter.Chapter, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, dir))
	if err != nil {
		return store.Novel{}, nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	novel := store.Novel{ID: id, Title: dir, Dir: dir}
	var chapters []chapter.Chapter
	for _, name := range files {
		t, err := TypeForFile(name)
		if err != nil {
			continue
		}
		if novel.Type == "" {
			novel.Type = t
		}
		if t != novel.Type {
			l.log.Warn("chapter type differs from novel, skipping", "file", name, "type", t, "novel_type", novel.Type)
			continue
		}
		n := len(chapters) + 1
		chapters = append(chapters, chapter.Chapter{
			ID:            id*chapterIDStride + n,
			NovelID:       id,
			URL:           filepath.ToSlash(filepath.Join(dir, name)),
			Title:         strings.TrimSuffix(name, filepath.Ext(name)),
			Order:         float64(n),
			ReadingStatus: chapter.StatusUnread,
		})
	}
	if len(chapters) == 0 {
		return store.Novel{}, nil, fmt.Errorf("no chapters in %s", dir)
	}
	return novel, chapters, nil
}

func mergeState(ctx context.Context, st *store.Store, chapters []chapter.Chapter) []chapter.Chapter {
	for i, c := range chapters {
		old, err := st.Chapter(ctx, c.ID)
		if err != nil || old.URL != c.URL {
			continue
		}
		chapters[i].ReadingStatus = old.ReadingStatus
		chapters[i].ReadingPosition = old.ReadingPosition
		chapters[i].Bookmarked = old.Bookmarked
	}
	return chapters
}

// FetchPassage returns the raw passage of a chapter.
func (l *Library) FetchPassage(ctx context.Context, c chapter.Chapter) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.resolve(c.URL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chapter %d: %w", c.ID, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".docx") {
		text, err := docxText(data)
		if err != nil {
			return nil, fmt.Errorf("chapter %d: %w", c.ID, err)
		}
		return []byte(text), nil
	}
	return data, nil
}

// resolve maps a chapter URL to a file inside the library root.
func (l *Library) resolve(url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("chapter has no file")
	}
	path := filepath.Join(l.root, filepath.FromSlash(url))
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("chapter file %q is outside the library", url)
	}
	return path, nil
}
