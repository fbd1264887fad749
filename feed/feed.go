// Package feed reads raw records from a feed export.
//
// The export format is a stream of JSON objects, one per record, which is
// what the capture layer emits (JSON Lines, though any whitespace separation
// decodes). Exports are frequently gzip-compressed; the reader sniffs the
// magic bytes and decompresses transparently.
package feed

import (
	"bufio"
	"errors"
	"io"

	"encoding/json"

	"github.com/klauspost/compress/gzip"

	"github.com/cvemart/cvemart"
)

var gzipMagic = []byte{0x1f, 0x8b}

// New wraps r for iteration.
func New(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	var src io.Reader = br
	var gz *gzip.Reader
	if len(head) == 2 && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		gz, err = gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		src = gz
	}
	return &Reader{
		dec: json.NewDecoder(src),
		gz:  gz,
	}, nil
}

// Reader is an iterator over the records of one export.
//
// Users should call Next until it reports false, then check for errors via
// Err. It satisfies the loader's Source contract.
type Reader struct {
	err error
	rec *cvemart.RawRecord

	dec *json.Decoder
	gz  *gzip.Reader
}

// Next reports whether there's a record to be processed.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	rec := cvemart.RawRecord{}
	switch r.err = r.dec.Decode(&rec); {
	case r.err == nil:
		r.rec = &rec
		return true
	case errors.Is(r.err, io.EOF):
		r.err = nil
	}
	r.rec = nil
	return false
}

// Record returns the current record. Only valid after a Next call reporting
// true.
func (r *Reader) Record() *cvemart.RawRecord { return r.rec }

// Err reports the error that stopped iteration, if any.
func (r *Reader) Err() error { return r.err }

// Close releases the decompressor, if one was opened. It does not close the
// underlying reader.
func (r *Reader) Close() error {
	if r.gz != nil {
		return r.gz.Close()
	}
	return nil
}
