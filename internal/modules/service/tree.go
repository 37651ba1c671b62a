package service

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/codehive-io/codehive/internal/modules/model"
	"go.uber.org/zap"
)

// maxInlineBytes caps how large a file may be before its content is left out
// of the materialized tree.
const maxInlineBytes = 500 * 1024

// excludedDirs are never materialized and never recursed into: version
// control metadata, dependency caches and build output.
var excludedDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
	"dist":         {},
	"build":        {},
	"out":          {},
	"target":       {},
	".next":        {},
	".idea":        {},
	".vscode":      {},
}

// textExtensions is the allow-list of extensions whose content is inlined.
var textExtensions = map[string]struct{}{
	".c": {}, ".cc": {}, ".cfg": {}, ".conf": {}, ".cpp": {}, ".css": {},
	".env": {}, ".go": {}, ".h": {}, ".hpp": {}, ".html": {}, ".ini": {},
	".java": {}, ".js": {}, ".json": {}, ".jsx": {}, ".kt": {}, ".md": {},
	".php": {}, ".py": {}, ".rb": {}, ".rs": {}, ".scss": {}, ".sh": {},
	".sql": {}, ".svelte": {}, ".swift": {}, ".toml": {}, ".ts": {},
	".tsx": {}, ".txt": {}, ".vue": {}, ".xml": {}, ".yaml": {}, ".yml": {},
}

// FileTreeBuilder walks a filesystem subtree into a recursive FileNode
// sequence in directory-listing order. The walk never fails: unreadable
// entries are logged and yield empty content, a missing root yields an empty
// sequence.
type FileTreeBuilder interface {
	Build(rootPath string) []model.FileNode
}

type fileTreeBuilder struct {
	log *zap.Logger
}

func NewFileTreeBuilder(log *zap.Logger) FileTreeBuilder {
	return &fileTreeBuilder{log: log}
}

func (b *fileTreeBuilder) Build(rootPath string) []model.FileNode {
	return b.walk(rootPath, "")
}

func (b *fileTreeBuilder) walk(dir, rel string) []model.FileNode {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			b.log.Sugar().Warnw("failed to list directory", "dir", dir, "err", err)
		}
		return []model.FileNode{}
	}

	nodes := make([]model.FileNode, 0, len(entries))
	for _, e := range entries {
		childRel := path.Join(rel, e.Name())
		if e.IsDir() {
			if _, skip := excludedDirs[e.Name()]; skip {
				continue
			}
			nodes = append(nodes, model.FileNode{
				Name:     e.Name(),
				Path:     childRel,
				Type:     model.FileNodeFolder,
				Children: b.walk(filepath.Join(dir, e.Name()), childRel),
			})
			continue
		}
		nodes = append(nodes, model.FileNode{
			Name:    e.Name(),
			Path:    childRel,
			Type:    model.FileNodeFile,
			Content: b.readContent(filepath.Join(dir, e.Name()), e),
		})
	}
	return nodes
}

func (b *fileTreeBuilder) readContent(fullPath string, e os.DirEntry) string {
	ext := strings.ToLower(filepath.Ext(e.Name()))
	if _, ok := textExtensions[ext]; !ok {
		return ""
	}
	info, err := e.Info()
	if err != nil {
		b.log.Sugar().Warnw("failed to stat file", "path", fullPath, "err", err)
		return ""
	}
	if info.Size() >= maxInlineBytes {
		return ""
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		// the node is still emitted, just without content
		b.log.Sugar().Warnw("failed to read file", "path", fullPath, "err", err)
		return ""
	}
	return string(data)
}
