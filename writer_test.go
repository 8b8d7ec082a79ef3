// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zippkg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mrhack/zippkg/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_StoredLayout(t *testing.T) {
	mod := time.Date(2020, time.January, 2, 3, 4, 6, 0, time.UTC)
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("hello.txt", "hello world", WithModTime(mod)))
	})

	// 30+9 local header, 11 data, 46+9 directory record, 22 end record.
	require.Len(t, data, 127)
	le := binary.LittleEndian

	t.Run("LocalHeader", func(t *testing.T) {
		assert.Equal(t, []byte("PK\x03\x04"), data[0:4])
		assert.Equal(t, uint16(20), le.Uint16(data[4:]))
		assert.Equal(t, uint16(flagUTF8), le.Uint16(data[6:]))
		assert.Equal(t, uint16(Stored), le.Uint16(data[8:]))
		assert.Equal(t, uint32(0x0d4a1185), le.Uint32(data[14:]))
		assert.Equal(t, uint32(11), le.Uint32(data[18:]))
		assert.Equal(t, uint32(11), le.Uint32(data[22:]))
		assert.Equal(t, uint16(9), le.Uint16(data[26:]))
		assert.Equal(t, uint16(0), le.Uint16(data[28:]))
		assert.Equal(t, "hello.txt", string(data[30:39]))
		assert.Equal(t, "hello world", string(data[39:50]))
	})

	t.Run("CentralDirectory", func(t *testing.T) {
		cd := data[50:]
		assert.Equal(t, []byte("PK\x01\x02"), cd[0:4])
		assert.Equal(t, byte(versionMadeBy), cd[4])
		assert.Equal(t, byte(3), cd[5], "host system UNIX")
		assert.Equal(t, uint32(0x0d4a1185), le.Uint32(cd[16:]))
		assert.Equal(t, uint32(0), le.Uint32(cd[42:]), "local header offset")
		assert.Equal(t, "hello.txt", string(cd[46:55]))
	})

	t.Run("EndOfCentralDirectory", func(t *testing.T) {
		eocd := data[105:]
		assert.Equal(t, []byte("PK\x05\x06"), eocd[0:4])
		assert.Equal(t, uint16(1), le.Uint16(eocd[8:]))
		assert.Equal(t, uint16(1), le.Uint16(eocd[10:]))
		assert.Equal(t, uint32(55), le.Uint32(eocd[12:]))
		assert.Equal(t, uint32(50), le.Uint32(eocd[16:]))
		assert.Equal(t, uint16(0), le.Uint16(eocd[20:]))
	})

	t.Run("ReadBack", func(t *testing.T) {
		r := openBytes(t, data, Config{})
		assert.Equal(t, []string{"hello.txt"}, r.Names())

		got, err := r.Read("hello.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello world"), got)

		f, err := r.File("hello.txt")
		require.NoError(t, err)
		assert.Equal(t, uint32(0x0d4a1185), f.CRC32())
		assert.True(t, mod.Equal(f.ModTime()))
	})
}

func TestWriter_Empty(t *testing.T) {
	data := buildArchive(t, Config{}, func(*Writer) {})
	require.Len(t, data, directoryEndLen)
	verifyZipContent(t, data, "", map[string]string{})

	r := openBytes(t, data, Config{})
	assert.Empty(t, r.Names())
}

func TestWriter_AESHeader(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("secret.txt", "classified", WithEncryption(AES256, "pw"),
			WithCompression(Deflated, 0)))
	})

	r := openBytes(t, data, Config{})
	f, err := r.File("secret.txt")
	require.NoError(t, err)

	assert.Equal(t, aesMarker, f.RawMethod())
	assert.Equal(t, Deflated, f.Method())
	assert.Zero(t, f.CRC32(), "AE-2 stores no checksum")
	assert.Equal(t, uint16(versionAES), f.VersionNeeded())
	assert.True(t, f.HasExtraField(internal.AESExtraID))

	body := f.ExtraField(internal.AESExtraID)
	require.Len(t, body, 7)
	assert.Equal(t, uint16(aesVendorVersionAE2), binary.LittleEndian.Uint16(body[0:]))
	assert.Equal(t, "AE", string(body[2:4]))
	assert.Equal(t, byte(3), body[4])
	assert.Equal(t, uint16(Deflated), binary.LittleEndian.Uint16(body[5:]))

	_, err = r.Read("secret.txt")
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestWriter_PasswordDefaultsToZipCrypto(t *testing.T) {
	data := buildArchive(t, Config{Password: "pw"}, func(w *Writer) {
		require.NoError(t, w.WriteString("a.txt", "a"))
		require.NoError(t, w.WriteString("b.txt", "b", WithEncryption(AES128, "other")))
		require.NoError(t, w.Mkdir("dir"))
	})

	r := openBytes(t, data, Config{})
	encryption := make(map[string]EncryptionMethod)
	for _, f := range r.Files() {
		encryption[f.Name()] = f.Encryption()
	}
	assert.Equal(t, map[string]EncryptionMethod{
		"a.txt": ZipCrypto,
		"b.txt": AES128,
		"dir/":  NotEncrypted,
	}, encryption)

	got, err := r.ReadWithPassword("b.txt", "other")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}

func TestWriter_Validation(t *testing.T) {
	newWriter := func(t *testing.T) *Writer {
		w, err := NewWriter(&bytes.Buffer{}, Config{})
		require.NoError(t, err)
		return w
	}

	t.Run("FilenameTooLong", func(t *testing.T) {
		err := newWriter(t).WriteString(strings.Repeat("a", 0x10000), "")
		assert.ErrorIs(t, err, ErrFilenameTooLong)
	})

	t.Run("CommentTooLong", func(t *testing.T) {
		err := newWriter(t).WriteString("a", "", WithComment(strings.Repeat("c", 0x10000)))
		assert.ErrorIs(t, err, ErrCommentTooLong)
	})

	t.Run("CompressionLevel", func(t *testing.T) {
		err := newWriter(t).WriteString("a", "", WithCompression(Deflated, 12))
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("UnsupportedMethod", func(t *testing.T) {
		err := newWriter(t).WriteString("a", "", WithCompression(BZIP2, 0))
		assert.ErrorIs(t, err, ErrUnsupportedMethod)
	})

	t.Run("UnsupportedEncryption", func(t *testing.T) {
		err := newWriter(t).WriteString("a", "", WithEncryption(EncryptionMethod(42), "pw"))
		assert.ErrorIs(t, err, ErrUnsupportedEncryption)
	})

	t.Run("EncryptionWithoutPassword", func(t *testing.T) {
		err := newWriter(t).WriteString("a", "", WithEncryption(AES256, ""))
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("AfterClose", func(t *testing.T) {
		w := newWriter(t)
		require.NoError(t, w.Close())
		require.NoError(t, w.Close(), "Close is idempotent")
		assert.ErrorIs(t, w.WriteString("a", ""), ErrClosed)
	})

	t.Run("Config", func(t *testing.T) {
		_, err := NewWriter(&bytes.Buffer{}, Config{CompressionLevel: -1})
		assert.ErrorIs(t, err, ErrConfig)
		_, err = NewWriter(&bytes.Buffer{}, Config{CompressionMethod: LZMA})
		assert.ErrorIs(t, err, ErrUnsupportedMethod)
		_, err = NewWriter(&bytes.Buffer{}, Config{Comment: strings.Repeat("c", 0x10000)})
		assert.ErrorIs(t, err, ErrCommentTooLong)
	})
}

func TestWriter_FailedEntryLeavesArchiveValid(t *testing.T) {
	data := buildArchive(t, Config{}, func(w *Writer) {
		require.NoError(t, w.WriteString("ok.txt", "ok"))
		require.Error(t, w.WriteString("bad.txt", "", WithCompression(LZMA, 0)))
		assert.Len(t, w.Files(), 1)
	})
	verifyZipContent(t, data, "", map[string]string{"ok.txt": "ok"})
}

func TestWriter_SetOffset(t *testing.T) {
	prefix := []byte("#!/bin/sh\nexit 0\n")

	var buf bytes.Buffer
	buf.Write(prefix)
	w, err := NewWriter(&buf, Config{})
	require.NoError(t, err)
	w.SetOffset(int64(len(prefix)))
	require.NoError(t, w.WriteString("payload.txt", "self-extracting"))
	require.NoError(t, w.Close())

	assert.Panics(t, func() { w.SetOffset(0) })
	verifyZipContent(t, buf.Bytes(), "", map[string]string{"payload.txt": "self-extracting"})

	r := openBytes(t, buf.Bytes(), Config{})
	f, err := r.File("payload.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(prefix)), f.HeaderOffset())
}

func TestWriter_LocalZip64Extra(t *testing.T) {
	t.Run("OffsetOnly", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, Config{})
		require.NoError(t, err)
		w.SetOffset(1 << 32)
		require.NoError(t, w.WriteString("a.txt", "a", WithEncryption(AES128, "pw")))
		require.NoError(t, w.Close())

		lfh, err := internal.LocalFileHeader.DecodeBytes(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), lfh.Uint(internal.UncompressedSize))
		local, err := internal.ParseExtra(lfh.Bytes(internal.Extra))
		require.NoError(t, err)
		assert.Equal(t, []uint16{internal.AESExtraID}, local.IDs(), "offset stays out of the local header")

		f := w.Files()[0]
		assert.True(t, f.HasExtraField(internal.Zip64ExtraID))
		assert.Len(t, f.ExtraField(internal.Zip64ExtraID), 8)
		assert.Equal(t, uint64(1<<32), f.HeaderOffset())
	})

	t.Run("LargeSize", func(t *testing.T) {
		w, err := NewWriter(&bytes.Buffer{}, Config{})
		require.NoError(t, err)
		w.SetOffset(1 << 33)
		fc := w.fileConfig(nil)
		fc.ModTime = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
		p := entryPayload{method: Deflated, data: []byte("tiny")}

		header, localExtra, err := w.buildHeader("big.bin", 1<<33, false, fc, p)
		require.NoError(t, err)

		cd, err := internal.ParseExtra(header.Bytes(internal.Extra))
		require.NoError(t, err)
		rec, ok := cd.Get(internal.Zip64ExtraID)
		require.True(t, ok)
		want := binary.LittleEndian.AppendUint64(nil, 1<<33)
		want = binary.LittleEndian.AppendUint64(want, 1<<33)
		assert.Equal(t, want, rec.Bytes(internal.Data), "uncompressed size then offset")
		assert.Equal(t, uint64(4), header.Uint(internal.CompressedSize))

		raw, err := localHeaderFor(header, localExtra)
		require.NoError(t, err)
		lfh, err := internal.LocalFileHeader.DecodeBytes(raw)
		require.NoError(t, err)
		assert.Equal(t, uint64(internal.Sentinel32), lfh.Uint(internal.UncompressedSize))
		assert.Equal(t, uint64(internal.Sentinel32), lfh.Uint(internal.CompressedSize))

		local, err := internal.ParseExtra(lfh.Bytes(internal.Extra))
		require.NoError(t, err)
		rec, ok = local.Get(internal.Zip64ExtraID)
		require.True(t, ok)
		want = binary.LittleEndian.AppendUint64(nil, 1<<33)
		want = binary.LittleEndian.AppendUint64(want, 4)
		assert.Equal(t, want, rec.Bytes(internal.Data), "both sizes, no offset")
	})
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return 0, errors.New("disk full")
	}
	w.n--
	return len(p), nil
}

func TestWriter_WriteErrors(t *testing.T) {
	w, err := NewWriter(&failingWriter{n: 2}, Config{})
	require.NoError(t, err)
	require.NoError(t, w.WriteString("a.txt", "a"))

	err = w.WriteString("b.txt", "b")
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorContains(t, w.Close(), "disk full")
}

func TestCreate_OpenReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.zip")

	w, err := Create(path, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, w.WriteString("notes.txt", strings.Repeat("note ", 100)))
	require.NoError(t, w.Close())

	r, err := OpenReader(path, Config{})
	require.NoError(t, err)
	got, err := r.Read("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("note ", 100), string(got))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Read("notes.txt")
	assert.ErrorIs(t, err, ErrClosed)
}
