package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

type rarEntry struct {
	name string
	body string
}

// writeRAR writes a RAR 4.x archive holding stored (uncompressed) entries.
// Names use the RAR 4.x backslash separator.
func writeRAR(t *testing.T, path string, entries []rarEntry) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07, 0x00})
	writeRARBlock(&buf, 0x73, 0, make([]byte, 6))
	for _, e := range entries {
		data := []byte(e.body)
		fields := binary.LittleEndian.AppendUint32(nil, uint32(len(data))) // packed size
		fields = binary.LittleEndian.AppendUint32(fields, uint32(len(data)))
		fields = append(fields, 2) // win32 host
		fields = binary.LittleEndian.AppendUint32(fields, crc32.ChecksumIEEE(data))
		fields = binary.LittleEndian.AppendUint32(fields, 0)
		fields = append(fields, 20, 0x30) // unpack version, stored
		fields = binary.LittleEndian.AppendUint16(fields, uint16(len(e.name)))
		fields = binary.LittleEndian.AppendUint32(fields, 0x20)
		fields = append(fields, e.name...)
		writeRARBlock(&buf, 0x74, 0x8000, fields)
		buf.Write(data)
	}
	writeRARBlock(&buf, 0x7b, 0x4000, nil)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func writeRARBlock(buf *bytes.Buffer, blockType byte, flags uint16, fields []byte) {
	hdr := []byte{blockType}
	hdr = binary.LittleEndian.AppendUint16(hdr, flags)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(7+len(fields)))
	hdr = append(hdr, fields...)
	buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(crc32.ChecksumIEEE(hdr))))
	buf.Write(hdr)
}

func requireKind(t *testing.T, err error, kind chapter.ExtractErrorKind) {
	t.Helper()
	var extractErr *chapter.ExtractError
	require.True(t, errors.As(err, &extractErr), "want ExtractError, got %v", err)
	assert.Equal(t, kind, extractErr.Kind)
}

func TestNativeExtractsZipPreservingLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "c1502.cbz")
	writeZip(t, archive, map[string]string{
		"c1502_p1.png":       "one",
		"extra/c1502_p2.png": "two",
	})
	dest := filepath.Join(dir, "chapter_1502")

	require.NoError(t, NewNative(zap.NewNop()).Extract(context.Background(), archive, dest))

	got, err := os.ReadFile(filepath.Join(dest, "c1502_p1.png"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
	got, err = os.ReadFile(filepath.Join(dest, "extra", "c1502_p2.png"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestNativeExtractsRarPreservingLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "c1502.rar")
	writeRAR(t, archive, []rarEntry{
		{name: "c1502_p01.jpg", body: "one"},
		{name: `sub\c1502_p02.jpg`, body: "two"},
	})
	dest := filepath.Join(dir, "chapter_1502")

	require.NoError(t, NewNative(zap.NewNop()).Extract(context.Background(), archive, dest))

	got, err := os.ReadFile(filepath.Join(dest, "c1502_p01.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
	got, err = os.ReadFile(filepath.Join(dest, "sub", "c1502_p02.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestNativeRarRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.rar")
	writeRAR(t, archive, []rarEntry{{name: `..\..\outside.jpg`, body: "x"}})

	err := NewNative(nil).Extract(context.Background(), archive, filepath.Join(dir, "out"))
	require.Error(t, err)
	requireKind(t, err, chapter.ExtractCorrupt)
	assert.NoFileExists(t, filepath.Join(dir, "outside.jpg"))
}

func TestNativeRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../../outside.png": "x"})
	dest := filepath.Join(dir, "out")

	err := NewNative(nil).Extract(context.Background(), archive, dest)
	require.Error(t, err)
	requireKind(t, err, chapter.ExtractCorrupt)
	assert.NoFileExists(t, filepath.Join(dir, "outside.png"))
}

func TestNativeCorruptArchive(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"c1.rar", "c1.zip", "c1.bin"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			archive := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(archive, []byte("definitely not an archive"), 0o600))

			err := NewNative(nil).Extract(context.Background(), archive, filepath.Join(dir, "out"))
			require.Error(t, err)
			requireKind(t, err, chapter.ExtractCorrupt)
		})
	}
}

func TestNativeMissingArchiveIsIO(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := NewNative(nil).Extract(context.Background(), filepath.Join(dir, "missing.rar"), filepath.Join(dir, "out"))
	require.Error(t, err)
	requireKind(t, err, chapter.ExtractIO)
	assert.Equal(t, chapter.SeverityLocalIO, chapter.Severity(err))
}

func TestUnrarMissingBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "c1.rar")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o600))

	err := NewUnrar(filepath.Join(dir, "no-such-unrar"), zap.NewNop()).Extract(context.Background(), archive, filepath.Join(dir, "out"))
	require.Error(t, err)
	requireKind(t, err, chapter.ExtractToolUnavailable)
	assert.Equal(t, chapter.SeverityEnvironment, chapter.Severity(err))
}

func TestUnrarExitCodes(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	tests := []struct {
		name string
		code string
		want chapter.ExtractErrorKind
		ok   bool
	}{
		{name: "success", code: "0", ok: true},
		{name: "crc error", code: "3", want: chapter.ExtractCorrupt},
		{name: "fatal error", code: "2", want: chapter.ExtractCorrupt},
		{name: "write error", code: "5", want: chapter.ExtractIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			bin := filepath.Join(dir, "unrar")
			script := "#!/bin/sh\necho failing >&2\nexit " + tt.code + "\n"
			require.NoError(t, os.WriteFile(bin, []byte(script), 0o700))
			archive := filepath.Join(dir, "c1.rar")
			require.NoError(t, os.WriteFile(archive, []byte("x"), 0o600))

			err := NewUnrar(bin, nil).Extract(context.Background(), archive, filepath.Join(dir, "out"))
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			requireKind(t, err, tt.want)
		})
	}
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	ex, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Native{}, ex)

	ex, err = New(Config{Backend: "UNRAR", UnrarPath: "/usr/bin/unrar"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Unrar{}, ex)

	_, err = New(Config{Backend: "7z"}, nil)
	require.Error(t, err)
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	got, err := safeJoin(dest, "a/b.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "a", "b.png"), got)

	for _, bad := range []string{"../x.png", "/etc/passwd", "a/../../x.png", `..\x.png`} {
		_, err := safeJoin(dest, bad)
		assert.ErrorIs(t, err, errEscapes, bad)
	}
}
