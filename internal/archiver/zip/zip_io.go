package zip

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/physfsgo/physfs/pkg/pfserrors"
	"github.com/physfsgo/physfs/pkg/pfsio"
)

// storedEntryIo is the Io returned for a compressionStored entry: reads and
// seeks forward directly to the underlying stream, clamped to the entry's
// uncompressed size.
type storedEntryIo struct {
	io   pfsio.Io
	pos  int64
	size int64
}

func (s *storedEntryIo) Read(p []byte) (int, error) {
	remaining := s.size - s.pos
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.io.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *storedEntryIo) Write(p []byte) (int, error) {
	return 0, pfserrors.New(pfserrors.CodeReadOnly, "zip entries are read-only")
}

func (s *storedEntryIo) Seek(pos int64) error {
	if pos < 0 || pos > s.size {
		return pfserrors.New(pfserrors.CodePastEOF, "seek past entry bounds")
	}
	base, err := s.io.Tell()
	if err != nil {
		return err
	}
	if err := s.io.Seek(base - s.pos + pos); err != nil {
		return err
	}
	s.pos = pos
	return nil
}

func (s *storedEntryIo) Tell() (int64, error) { return s.pos, nil }

func (s *storedEntryIo) Length() (int64, error) { return s.size, nil }

func (s *storedEntryIo) Duplicate() (pfsio.Io, error) {
	dup, err := s.io.Duplicate()
	if err != nil {
		return nil, err
	}
	return &storedEntryIo{io: dup, pos: s.pos, size: s.size}, nil
}

func (s *storedEntryIo) Flush() error { return nil }

func (s *storedEntryIo) Destroy() error { return s.io.Destroy() }

// inflateIo is the Io returned for a deflate-compressed entry. It mirrors
// ZIP_read/ZIP_seek: forward reads step the inflater, and a seek to a
// position behind the current one reinitializes the decompressor and
// discards output until it catches up, since raw-deflate streams can't be
// randomly accessed.
type inflateIo struct {
	io               pfsio.Io // underlying stream, positioned independently
	dataOffset       int64
	compressedSize   int64
	uncompressedSize int64

	pos     int64
	flate   io.ReadCloser
	limited *limitedReader
}

func newInflateIo(underlying pfsio.Io, dataOffset, compressedSize, uncompressedSize int64) *inflateIo {
	limited := &limitedReader{r: underlying, remaining: compressedSize}
	buffered := bufio.NewReaderSize(limited, readBufSize)
	return &inflateIo{
		io:               underlying,
		dataOffset:       dataOffset,
		compressedSize:   compressedSize,
		uncompressedSize: uncompressedSize,
		limited:          limited,
		flate:            flate.NewReader(buffered),
	}
}

func (z *inflateIo) Read(p []byte) (int, error) {
	remaining := z.uncompressedSize - z.pos
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := z.flate.Read(p)
	z.pos += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (z *inflateIo) Write(p []byte) (int, error) {
	return 0, pfserrors.New(pfserrors.CodeReadOnly, "zip entries are read-only")
}

// Seek matches ZIP_seek: backward seeks rewind and re-inflate from the
// start of the entry's data; forward seeks decode-and-discard in place.
func (z *inflateIo) Seek(pos int64) error {
	if pos < 0 || pos > z.uncompressedSize {
		return pfserrors.New(pfserrors.CodePastEOF, "seek past entry bounds")
	}

	if pos < z.pos {
		if err := z.io.Seek(z.dataOffset); err != nil {
			return err
		}
		z.limited = &limitedReader{r: z.io, remaining: z.compressedSize}
		z.flate = flate.NewReader(bufio.NewReaderSize(z.limited, readBufSize))
		z.pos = 0
	}

	buf := make([]byte, 512)
	for z.pos != pos {
		want := pos - z.pos
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, err := z.Read(buf[:want])
		if n == 0 && err == nil {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (z *inflateIo) Tell() (int64, error) { return z.pos, nil }

func (z *inflateIo) Length() (int64, error) { return z.uncompressedSize, nil }

func (z *inflateIo) Duplicate() (pfsio.Io, error) {
	dup, err := z.io.Duplicate()
	if err != nil {
		return nil, err
	}
	if err := dup.Seek(z.dataOffset); err != nil {
		dup.Destroy()
		return nil, err
	}
	return newInflateIo(dup, z.dataOffset, z.compressedSize, z.uncompressedSize), nil
}

func (z *inflateIo) Flush() error { return nil }

func (z *inflateIo) Destroy() error {
	z.flate.Close()
	return z.io.Destroy()
}
