// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_StandardLibraryArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.SetComment("written by archive/zip"))

	files := map[string]struct {
		method  uint16
		content string
	}{
		"deflated.txt": {zip.Deflate, strings.Repeat("streamed with a data descriptor ", 40)},
		"stored.txt":   {zip.Store, "kept as is"},
		"empty.txt":    {zip.Store, ""},
	}
	for _, name := range []string{"deflated.txt", "stored.txt", "empty.txt"} {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   files[name].method,
			Modified: time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		_, err = fw.Write([]byte(files[name].content))
		require.NoError(t, err)
	}
	_, err := zw.Create("folder/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data := buf.Bytes()
	r := openBytes(t, data, Config{})
	assert.Equal(t, "written by archive/zip", r.Comment())
	assert.Equal(t, []string{"deflated.txt", "stored.txt", "empty.txt", "folder/"}, r.Names())

	for name, want := range files {
		f, err := r.File(name)
		require.NoError(t, err)
		assert.NotZero(t, f.Flags()&flagDataDescriptor, name)

		got, err := f.Read()
		require.NoError(t, err, name)
		assert.Equal(t, want.content, string(got), name)
	}

	dir, err := r.File("folder/")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())
}

func TestReader_PasswordHandling(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("legacy.txt", "legacy secret", WithPassword("right")))
		require.NoError(t, w.WriteString("modern.txt", "modern secret", WithEncryption(AES128, "right")))
	})

	r := openBytes(t, data, Config{})

	for _, name := range []string{"legacy.txt", "modern.txt"} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Read(name)
			assert.ErrorIs(t, err, ErrPasswordRequired)
			assert.ErrorIs(t, err, ErrBadPassword)

			// A wrong password is caught by the verifier, or in rare collisions
			// by the integrity checks that follow it.
			_, err = r.ReadWithPassword(name, "wrong")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadPassword) || errors.Is(err, ErrIntegrity) || errors.Is(err, ErrFormat),
				"unexpected error %v", err)

			got, err := r.ReadWithPassword(name, "right")
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(string(got), "secret"))
		})
	}
}

func TestReader_Checksum(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("hello.txt", "hello world"))
	})

	// Payload starts after the 30-byte header and the 9-byte name.
	data[39] ^= 0x01

	r := openBytes(t, data, Config{})
	_, err := r.Read("hello.txt")
	assert.ErrorIs(t, err, ErrChecksum)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestReader_InflateBoundedBySize(t *testing.T) {
	content := strings.Repeat("x", 1<<20)
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("bomb.txt", content, WithCompression(Deflated, 0)))
	})

	eocd := len(data) - directoryEndLen
	cd := int(binary.LittleEndian.Uint32(data[eocd+16:]))
	require.Equal(t, []byte("PK\x01\x02"), data[cd:cd+4])
	binary.LittleEndian.PutUint32(data[cd+24:], 10)

	r := openBytes(t, data, Config{})
	_, err := r.Read("bomb.txt")
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.ErrorContains(t, err, "read 11, want 10")
}

func TestReader_NotAnArchive(t *testing.T) {
	tests := map[string][]byte{
		"Empty":     nil,
		"TooSmall":  []byte("PK\x05\x06"),
		"NoEnd":     bytes.Repeat([]byte("not a zip file "), 100),
		"Truncated": append(bytes.Repeat([]byte{0}, 40), []byte("PK\x05\x06\x00\x00")...),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(data), int64(len(data)), Config{})
			assert.ErrorIs(t, err, ErrBadArchive)
		})
	}
}

func TestReader_CommentAfterEnd(t *testing.T) {
	data := buildArchive(t, Config{Comment: strings.Repeat("z", 1000)}, func(w *Writer) {
		require.NoError(t, w.WriteString("a.txt", "a"))
	})

	r := openBytes(t, data, Config{})
	assert.Len(t, r.Comment(), 1000)
	assert.Equal(t, []string{"a.txt"}, r.Names())
}

func TestReader_CorruptDirectory(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("a.txt", "a"))
	})
	eocd := len(data) - directoryEndLen

	t.Run("TooManyEntries", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint16(bad[eocd+8:], 2)
		binary.LittleEndian.PutUint16(bad[eocd+10:], 2)

		_, err := NewReader(bytes.NewReader(bad), int64(len(bad)), Config{})
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("OffsetBeyondFile", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint32(bad[eocd+16:], uint32(len(bad)+100))

		_, err := NewReader(bytes.NewReader(bad), int64(len(bad)), Config{})
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("BadLocalHeader", func(t *testing.T) {
		bad := bytes.Clone(data)
		copy(bad[0:4], "XXXX")

		r := openBytes(t, bad, Config{})
		_, err := r.Read("a.txt")
		assert.ErrorIs(t, err, ErrFormat)
	})
}

func TestReader_MultiDisk(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Config{})
	require.NoError(t, err)
	w.SetOffset(1 << 32)
	require.NoError(t, w.WriteString("a.txt", "a"))
	require.NoError(t, w.Close())

	data := buf.Bytes()
	locator := len(data) - directoryEndLen - zip64LocatorLen
	require.Equal(t, []byte("PK\x06\x07"), data[locator:locator+4])
	binary.LittleEndian.PutUint32(data[locator+4:], 1)
	binary.LittleEndian.PutUint32(data[locator+16:], 2)

	src := &offsetReaderAt{base: 1 << 32, data: data}
	_, err = NewReader(src, src.size(), Config{})
	assert.ErrorIs(t, err, ErrMultiDisk)
	assert.ErrorIs(t, err, ErrBadArchive)
}

func TestReader_Zip64EndHugeRecordSize(t *testing.T) {
	const base = int64(1) << 32

	var buf bytes.Buffer
	w, err := NewWriter(&buf, Config{})
	require.NoError(t, err)
	w.SetOffset(base)
	require.NoError(t, w.WriteString("a.txt", "a"))
	require.NoError(t, w.Close())

	data := buf.Bytes()
	locator := len(data) - directoryEndLen - zip64LocatorLen
	end := int64(binary.LittleEndian.Uint64(data[locator+8:])) - base
	require.Equal(t, []byte("PK\x06\x06"), data[end:end+4])
	binary.LittleEndian.PutUint64(data[end+4:], 0xFFFFFF00)

	src := &offsetReaderAt{base: base, data: data}
	_, err = NewReader(src, src.size(), Config{})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReader_Lookup(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("dup.txt", "first"))
		require.NoError(t, w.WriteString("dup.txt", "second"))
	})

	r := openBytes(t, data, Config{})
	assert.Equal(t, []string{"dup.txt", "dup.txt"}, r.Names())
	assert.Len(t, r.Files(), 2)

	got, err := r.Read("dup.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	_, err = r.File("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = r.Read("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestReader_Logger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	data := buildArchive(t, Config{Logger: logger, Password: "hunter2"}, func(w *Writer) {
		require.NoError(t, w.WriteString("a.txt", "a"))
	})
	openBytes(t, data, Config{Logger: logger, Password: "hunter2"})

	assert.Contains(t, logs.String(), "wrote entry")
	assert.Contains(t, logs.String(), "found end of central directory")
	assert.NotContains(t, logs.String(), "hunter2")
}

func TestFile_Detached(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Config{})
	require.NoError(t, err)
	require.NoError(t, w.WriteString("a.txt", "a"))

	files := w.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name())

	_, err = files[0].Read()
	assert.ErrorIs(t, err, ErrDetached)
	assert.NotErrorIs(t, err, ErrFileNotFound)
	_, err = files[0].ReadWithPassword("pw")
	assert.ErrorIs(t, err, ErrDetached)
}

func TestReader_Search(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("error.log", "e"))
		require.NoError(t, w.WriteString("var/logs/access.log", "a"))
		require.NoError(t, w.WriteString("var/readme.txt", "r"))
	})
	r := openBytes(t, data, Config{})

	names := func(files []*File) []string {
		var out []string
		for _, f := range files {
			out = append(out, f.Name())
		}
		return out
	}

	got, err := r.Glob("*.log")
	require.NoError(t, err)
	assert.Equal(t, []string{"error.log"}, names(got))

	got, err = r.Glob("var/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"var/readme.txt"}, names(got))

	got, err = r.Find("*.log")
	require.NoError(t, err)
	assert.Equal(t, []string{"error.log", "var/logs/access.log"}, names(got))

	_, err = r.Glob("[")
	assert.Error(t, err)

	assert.True(t, r.Exists("error.log"))
	assert.True(t, r.Exists("var/logs"), "implicit directory")
	assert.True(t, r.Exists("/var\\readme.txt"))
	assert.False(t, r.Exists("var/log"))
}

func TestReader_Context(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("a.txt", "a"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReaderWithContext(ctx, bytes.NewReader(data), int64(len(data)), Config{})
	assert.ErrorIs(t, err, context.Canceled)

	r, err := NewReaderWithContext(context.Background(), bytes.NewReader(data), int64(len(data)), Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, r.Names())
}
