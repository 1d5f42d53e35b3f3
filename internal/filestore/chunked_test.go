package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"chunkstore/internal/blobstore"
	"chunkstore/internal/models"
)

// forwardOnly hides io.Seeker on opened objects.
type forwardOnly struct {
	blobstore.Backend
}

func (b forwardOnly) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := b.Backend.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{rc, rc}, nil
}

// storedFile puts payload in chunks of blobSize and returns its index rows.
func storedFile(t *testing.T, env *testEnv, payload []byte, blobSize int64) (*models.File, []models.FileBlobIndex) {
	t.Helper()
	file := env.newFile(t, "data.bin")
	if _, err := env.svc.PutFile(context.Background(), file, bytes.NewReader(payload), blobSize); err != nil {
		t.Fatalf("put file: %v", err)
	}
	entries, err := env.svc.Index(context.Background(), file)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	return file, entries
}

func TestChunkedReaderSequentialRead(t *testing.T) {
	env := newTestEnv(t, Options{})
	payload := pattern(1000, 4)
	_, entries := storedFile(t, env, payload, 97)

	for name, backend := range map[string]blobstore.Backend{"seekable": env.memory, "forward-only": forwardOnly{env.memory}} {
		t.Run(name, func(t *testing.T) {
			r, err := NewChunkedReader(context.Background(), backend, entries)
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}
			defer r.Close()
			if r.Size() != int64(len(payload)) {
				t.Fatalf("expected size %d, got %d", len(payload), r.Size())
			}

			// Small reads cross blob boundaries.
			var got []byte
			buf := make([]byte, 13)
			for {
				n, err := r.Read(buf)
				got = append(got, buf[:n]...)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("read: %v", err)
				}
			}
			if !bytes.Equal(got, payload) {
				t.Fatal("sequential read differs from payload")
			}
			pos, err := r.Tell()
			if err != nil || pos != int64(len(payload)) {
				t.Fatalf("expected tell at end, got %d %v", pos, err)
			}
		})
	}
}

func TestChunkedReaderReadSpansBlobs(t *testing.T) {
	env := newTestEnv(t, Options{})
	payload := pattern(300, 6)
	_, entries := storedFile(t, env, payload, 100)

	r, err := NewChunkedReader(context.Background(), env.memory, entries)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer r.Close()
	if _, err := r.Seek(90, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf := make([]byte, 120)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 120 || !bytes.Equal(buf, payload[90:210]) {
		t.Fatalf("expected one read to cross two boundaries, got %d bytes", n)
	}
}

func TestChunkedReaderSeekEveryOffset(t *testing.T) {
	env := newTestEnv(t, Options{})
	payload := pattern(120, 7)
	_, entries := storedFile(t, env, payload, 17)

	for name, backend := range map[string]blobstore.Backend{"seekable": env.memory, "forward-only": forwardOnly{env.memory}} {
		t.Run(name, func(t *testing.T) {
			r, err := NewChunkedReader(context.Background(), backend, entries)
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}
			defer r.Close()

			one := make([]byte, 1)
			// Walk backwards so forward-only streams must reopen.
			for pos := len(payload) - 1; pos >= 0; pos-- {
				if _, err := r.Seek(int64(pos), io.SeekStart); err != nil {
					t.Fatalf("seek %d: %v", pos, err)
				}
				if tell, _ := r.Tell(); tell != int64(pos) {
					t.Fatalf("tell after seek %d: %d", pos, tell)
				}
				if _, err := io.ReadFull(r, one); err != nil {
					t.Fatalf("read at %d: %v", pos, err)
				}
				if one[0] != payload[pos] {
					t.Fatalf("byte at %d: got %x want %x", pos, one[0], payload[pos])
				}
			}
		})
	}
}

func TestChunkedReaderSeekBounds(t *testing.T) {
	env := newTestEnv(t, Options{})
	payload := pattern(50, 8)
	_, entries := storedFile(t, env, payload, 20)

	r, err := NewChunkedReader(context.Background(), env.memory, entries)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer r.Close()

	if _, err := r.Seek(-1, io.SeekStart); !errors.Is(err, ErrInvalidSeek) {
		t.Fatalf("expected ErrInvalidSeek for negative offset, got %v", err)
	}
	if _, err := r.Seek(51, io.SeekStart); !errors.Is(err, ErrInvalidSeek) {
		t.Fatalf("expected ErrInvalidSeek past end, got %v", err)
	}
	pos, err := r.Seek(0, io.SeekEnd)
	if err != nil || pos != 50 {
		t.Fatalf("seek to end: %d %v", pos, err)
	}
	if n, err := r.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Fatalf("expected EOF at end, got %d %v", n, err)
	}

	if _, err := r.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	pos, err = r.Seek(15, io.SeekCurrent)
	if err != nil || pos != 25 {
		t.Fatalf("relative seek: %d %v", pos, err)
	}
	rest, _ := io.ReadAll(r)
	if !bytes.Equal(rest, payload[25:]) {
		t.Fatal("unexpected bytes after relative seek")
	}
}

func TestChunkedReaderClosed(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, entries := storedFile(t, env, pattern(10, 1), 4)
	r, err := NewChunkedReader(context.Background(), env.memory, entries)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from read, got %v", err)
	}
	if _, err := r.Seek(0, io.SeekStart); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from seek, got %v", err)
	}
	if _, err := r.Tell(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from tell, got %v", err)
	}
}

func TestDetachRequiresPrefetch(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, entries := storedFile(t, env, pattern(10, 1), 4)
	r, err := NewChunkedReader(context.Background(), env.memory, entries)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer r.Close()
	if _, err := r.DetachTempFile(); !errors.Is(err, ErrNotPrefetched) {
		t.Fatalf("expected ErrNotPrefetched, got %v", err)
	}
}

func TestPrefetchMatchesStreaming(t *testing.T) {
	env := newTestEnv(t, Options{PrefetchWorkers: 3})
	ctx := context.Background()
	payload := pattern(250_000, 9)
	file, _ := storedFile(t, env, payload, 16*1024)

	streaming, err := env.svc.Open(ctx, file, OpenOptions{})
	if err != nil {
		t.Fatalf("open streaming: %v", err)
	}
	defer streaming.Close()
	streamed, err := io.ReadAll(streaming)
	if err != nil {
		t.Fatalf("read streaming: %v", err)
	}

	dir := t.TempDir()
	prefetched, err := env.svc.Open(ctx, file, OpenOptions{Prefetch: true, PrefetchDir: dir})
	if err != nil {
		t.Fatalf("open prefetched: %v", err)
	}
	if !prefetched.Prefetched() {
		t.Fatal("expected prefetch mode")
	}
	got, err := io.ReadAll(prefetched)
	if err != nil {
		t.Fatalf("read prefetched: %v", err)
	}
	if !bytes.Equal(got, streamed) || !bytes.Equal(got, payload) {
		t.Fatal("prefetched bytes differ from streamed bytes")
	}
	if pos, err := prefetched.Tell(); err != nil || pos != int64(len(payload)) {
		t.Fatalf("tell after prefetched read: %d %v", pos, err)
	}
	if _, err := prefetched.Seek(1000, io.SeekStart); err != nil {
		t.Fatalf("seek prefetched: %v", err)
	}
	one := make([]byte, 1)
	if _, err := io.ReadFull(prefetched, one); err != nil || one[0] != payload[1000] {
		t.Fatalf("unexpected byte after prefetched seek: %v", err)
	}

	if err := prefetched.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	left, _ := os.ReadDir(dir)
	if len(left) != 0 {
		t.Fatalf("expected temp file removed on close, found %d entries", len(left))
	}
}

func TestPrefetchDetach(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file, _ := storedFile(t, env, []byte("hello prefetch"), 5)

	r, err := env.svc.Open(ctx, file, OpenOptions{Prefetch: true, KeepTempFile: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Move the cursor; detach must rewind.
	if _, err := r.Read(make([]byte, 3)); err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := r.DetachTempFile()
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	got, _ := io.ReadAll(f)
	if string(got) != "hello prefetch" {
		t.Fatalf("unexpected detached content %q", got)
	}
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected reader closed after detach, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close after detach: %v", err)
	}
	if _, err := os.Stat(f.Name()); err != nil {
		t.Fatalf("detached file must survive reader close: %v", err)
	}
}

func TestPrefetchEmptyFile(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file := env.newFile(t, "empty")
	if _, err := env.svc.PutFile(ctx, file, bytes.NewReader(nil), 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	r, err := env.svc.Open(ctx, file, OpenOptions{Prefetch: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if n, err := r.Read(make([]byte, 8)); n != 0 || err != io.EOF {
		t.Fatalf("expected immediate EOF, got %d %v", n, err)
	}

	streaming, err := env.svc.Open(ctx, file, OpenOptions{})
	if err != nil {
		t.Fatalf("open streaming: %v", err)
	}
	defer streaming.Close()
	if pos, err := streaming.Tell(); err != nil || pos != 0 {
		t.Fatalf("expected tell 0, got %d %v", pos, err)
	}
	if n, err := streaming.Read(make([]byte, 8)); n != 0 || err != io.EOF {
		t.Fatalf("expected immediate EOF, got %d %v", n, err)
	}
}

func TestPrefetchFailureRemovesTempFile(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file, entries := storedFile(t, env, pattern(400, 3), 100)
	if err := env.memory.Delete(ctx, entries[2].Blob.Path); err != nil {
		t.Fatalf("delete bytes: %v", err)
	}

	dir := t.TempDir()
	if _, err := env.svc.Open(ctx, file, OpenOptions{Prefetch: true, PrefetchDir: dir}); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected missing object error, got %v", err)
	}
	left, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(left) != 0 {
		t.Fatalf("expected no temp file after failed prefetch, found %v", left)
	}
}

func TestStreamingMissingObject(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	_, entries := storedFile(t, env, pattern(30, 3), 10)
	if err := env.memory.Delete(ctx, entries[1].Blob.Path); err != nil {
		t.Fatalf("delete bytes: %v", err)
	}

	r, err := NewChunkedReader(ctx, env.memory, entries)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer r.Close()
	if _, err := io.ReadAll(r); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound mid-stream, got %v", err)
	}
}
