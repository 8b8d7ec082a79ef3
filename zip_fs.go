// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

var (
	_ fs.FS         = (*readerFS)(nil)
	_ fs.StatFS     = (*readerFS)(nil)
	_ fs.ReadDirFS  = (*readerFS)(nil)
	_ fs.ReadFileFS = (*readerFS)(nil)
)

// FS exposes the archive as a read-only filesystem. Opening a regular file
// reads and verifies the whole entry with the reader's password.
// Directories without an entry of their own are synthesized from names.
func (r *Reader) FS() fs.FS {
	return &readerFS{r: r}
}

type readerFS struct {
	r *Reader
}

// node is either an archive entry or a synthesized directory.
type node struct {
	name string // fs path, without trailing slash
	file *File  // nil for implicit directories
}

func (zfs *readerFS) Open(name string) (fs.File, error) {
	n, err := zfs.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if n.isDir() {
		return &fsDir{node: n, fsys: zfs}, nil
	}

	data, err := n.file.Read()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{node: n, Reader: bytes.NewReader(data)}, nil
}

func (zfs *readerFS) ReadFile(name string) ([]byte, error) {
	n, err := zfs.lookup(name)
	if err == nil && n.isDir() {
		err = fs.ErrInvalid
	}
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return n.file.Read()
}

func (zfs *readerFS) Stat(name string) (fs.FileInfo, error) {
	n, err := zfs.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return n, nil
}

func (zfs *readerFS) ReadDir(name string) ([]fs.DirEntry, error) {
	n, err := zfs.lookup(name)
	if err == nil && !n.isDir() {
		err = fs.ErrInvalid
	}
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return zfs.children(n.name), nil
}

// lookup resolves root, explicit entries and implicit directories.
func (zfs *readerFS) lookup(name string) (*node, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	if name == "." {
		return &node{name: "."}, nil
	}
	if f, ok := zfs.r.index[name]; ok {
		return &node{name: name, file: f}, nil
	}
	if f, ok := zfs.r.index[name+"/"]; ok {
		return &node{name: name, file: f}, nil
	}

	prefix := name + "/"
	for _, f := range zfs.r.files {
		if strings.HasPrefix(f.name, prefix) {
			return &node{name: name}, nil
		}
	}
	return nil, fs.ErrNotExist
}

// children lists the direct descendants of dir, sorted by name.
func (zfs *readerFS) children(dir string) []fs.DirEntry {
	prefix := ""
	if dir != "." {
		prefix = dir + "/"
	}

	seen := make(map[string]bool)
	var entries []fs.DirEntry
	for _, f := range zfs.r.files {
		rel, ok := strings.CutPrefix(f.name, prefix)
		if !ok || rel == "" {
			continue
		}

		child, _, _ := strings.Cut(rel, "/")
		if child == "" || seen[child] {
			continue
		}
		seen[child] = true

		// Resolve like Open so entries and Stat agree on explicit directories.
		n, err := zfs.lookup(path.Join(dir, child))
		if err != nil {
			continue
		}
		entries = append(entries, fs.FileInfoToDirEntry(n))
	}

	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries
}

func (n *node) isDir() bool { return n.file == nil || n.file.IsDir() }

func (n *node) Name() string { return path.Base(n.name) }

func (n *node) Size() int64 {
	if n.file == nil {
		return 0
	}
	return int64(n.file.UncompressedSize())
}

func (n *node) Mode() fs.FileMode {
	if n.file == nil {
		return fs.ModeDir | 0755
	}
	mode := n.file.Mode()
	if n.file.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}

func (n *node) ModTime() time.Time {
	if n.file == nil {
		return time.Time{}
	}
	return n.file.ModTime()
}

func (n *node) IsDir() bool { return n.isDir() }
func (n *node) Sys() any    { return n.file }

// fsFile serves an entry already read and verified.
type fsFile struct {
	*bytes.Reader
	node *node
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.node, nil }
func (f *fsFile) Close() error               { return nil }

// fsDir wraps a directory to satisfy fs.ReadDirFile
type fsDir struct {
	node    *node
	fsys    *readerFS
	entries []fs.DirEntry
	read    bool
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.node, nil }
func (d *fsDir) Close() error               { return nil }
func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.node.name, Err: fs.ErrInvalid}
}

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.read {
		d.entries = d.fsys.children(d.node.name)
		d.read = true
	}

	if n <= 0 {
		out := d.entries
		d.entries = nil
		return out, nil
	}
	if len(d.entries) == 0 {
		return nil, io.EOF
	}
	k := min(n, len(d.entries))
	out := d.entries[:k]
	d.entries = d.entries[k:]
	return out, nil
}
