// Package car reads and writes CAR v1 archives, the block container the
// relay uses for a commit's changed records.
//
// An archive is a varint-prefixed DAG-CBOR header {roots, version} followed
// by varint-prefixed sections, each a binary CID immediately followed by the
// block bytes it addresses.
package car

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"

	"github.com/roach88/skyfeed/internal/codec"
)

var (
	// ErrMalformed reports a truncated or structurally invalid archive.
	ErrMalformed = errors.New("malformed CAR")

	// ErrUnsupportedVersion reports a header version other than 1.
	ErrUnsupportedVersion = errors.New("unsupported CAR version")

	// ErrHashMismatch reports block bytes that do not hash to their CID.
	ErrHashMismatch = errors.New("block does not match its CID")
)

// Block is one content-addressed block.
type Block struct {
	CID  gocid.Cid
	Data []byte
}

// Blocks maps content hash to raw block bytes for a single commit.
type Blocks map[gocid.Cid][]byte

// Get returns the bytes stored under c.
func (b Blocks) Get(c gocid.Cid) ([]byte, bool) {
	data, ok := b[c]
	return data, ok
}

type header struct {
	Roots   []codec.Link `cbor:"roots"`
	Version uint64       `cbor:"version"`
}

// Read parses a CAR v1 archive and returns its blocks and roots.
// Later sections with a repeated CID overwrite earlier ones.
func Read(data []byte) (Blocks, []gocid.Cid, error) {
	r := bytes.NewReader(data)

	hdrBytes, err := readSection(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var hdr header
	if err := codec.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, nil, fmt.Errorf("decode header: %w: %v", ErrMalformed, err)
	}
	if hdr.Version != 1 {
		return nil, nil, fmt.Errorf("header version %d: %w", hdr.Version, ErrUnsupportedVersion)
	}

	roots := make([]gocid.Cid, 0, len(hdr.Roots))
	for _, l := range hdr.Roots {
		roots = append(roots, l.CID)
	}

	blocks := make(Blocks)
	for r.Len() > 0 {
		section, err := readSection(r)
		if err != nil {
			return nil, nil, fmt.Errorf("read block: %w", err)
		}
		n, c, err := gocid.CidFromBytes(section)
		if err != nil {
			return nil, nil, fmt.Errorf("read block cid: %w: %v", ErrMalformed, err)
		}
		blocks[c] = section[n:]
	}

	return blocks, roots, nil
}

// readSection reads one varint length prefix and the bytes it covers.
func readSection(r *bytes.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: length prefix: %v", ErrMalformed, err)
	}
	if n == 0 || n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: section length %d exceeds remaining %d bytes", ErrMalformed, n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return buf, nil
}

// Write encodes roots and blocks as a CAR v1 archive.
func Write(w io.Writer, roots []gocid.Cid, blocks []Block) error {
	links := make([]codec.Link, 0, len(roots))
	for _, c := range roots {
		links = append(links, codec.NewLink(c))
	}
	hdrBytes, err := codec.Marshal(header{Roots: links, Version: 1})
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := writeSection(w, hdrBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, b := range blocks {
		section := append(b.CID.Bytes(), b.Data...)
		if err := writeSection(w, section); err != nil {
			return fmt.Errorf("write block %s: %w", b.CID, err)
		}
	}
	return nil
}

// Encode is Write into a fresh buffer.
func Encode(roots []gocid.Cid, blocks []Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, roots, blocks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSection(w io.Writer, data []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// NewBlock addresses data as a DAG-CBOR block with a SHA2-256 CIDv1, the
// form repository records take.
func NewBlock(data []byte) (Block, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return Block{}, fmt.Errorf("multihash: %w", err)
	}
	return Block{CID: gocid.NewCidV1(gocid.DagCBOR, mh), Data: data}, nil
}

// Verify checks that data hashes to c using c's own hash function.
func Verify(c gocid.Cid, data []byte) error {
	prefix := c.Prefix()
	sum, err := multihash.Sum(data, prefix.MhType, prefix.MhLength)
	if err != nil {
		return fmt.Errorf("verify %s: %w", c, err)
	}
	if !bytes.Equal(sum, c.Hash()) {
		return fmt.Errorf("verify %s: %w", c, ErrHashMismatch)
	}
	return nil
}
