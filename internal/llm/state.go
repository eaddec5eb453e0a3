package llm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// StateSize returns the bytes needed to serialize the whole context.
func (c *Context) StateSize() int {
	if c.valid() != nil {
		return 0
	}
	return c.ec.StateSize()
}

// StateBytes serializes the whole context.
func (c *Context) StateBytes() ([]byte, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	buf := make([]byte, c.ec.StateSize())
	n := c.ec.StateGet(buf)
	if n <= 0 {
		return nil, fmt.Errorf("%w: engine wrote no state", ErrInvalidState)
	}
	return buf[:n], nil
}

// StateRestore replaces the whole context from data and returns the bytes
// consumed. The tracked prompt tokens are forgotten; use LoadStateFile to
// restore them together with the memory.
func (c *Context) StateRestore(data []byte) (int, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty state", ErrInvalidArgument)
	}
	n := c.ec.StateSet(data)
	if n == 0 {
		return 0, ErrInvalidState
	}
	c.tokens = nil
	return n, nil
}

// StateSeqSize returns the bytes needed to serialize seq.
func (c *Context) StateSeqSize(seq int32) int {
	if c.valid() != nil {
		return 0
	}
	return c.ec.StateSeqSize(seq)
}

// StateSeqBytes serializes one sequence.
func (c *Context) StateSeqBytes(seq int32) ([]byte, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if seq < 0 {
		return nil, fmt.Errorf("%w: sequence %d", ErrInvalidArgument, seq)
	}
	buf := make([]byte, c.ec.StateSeqSize(seq))
	n := c.ec.StateSeqGet(buf, seq)
	if n <= 0 {
		return nil, fmt.Errorf("%w: engine wrote no state for sequence %d", ErrInvalidState, seq)
	}
	return buf[:n], nil
}

// StateSeqRestore replaces seq from data and returns the bytes consumed.
func (c *Context) StateSeqRestore(seq int32, data []byte) (int, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	if seq < 0 || len(data) == 0 {
		return 0, fmt.Errorf("%w: sequence %d with %d bytes", ErrInvalidArgument, seq, len(data))
	}
	n := c.ec.StateSeqSet(data, seq)
	if n == 0 {
		return 0, ErrInvalidState
	}
	if seq == 0 {
		c.tokens = nil
	}
	return n, nil
}

// State file layout, little endian:
//
//	magic "IFDS" | version u32 | kind u8 | seq i32 | n_tokens u32 |
//	tokens i32... | xxhash64(tokens) u64 | n_state u64 | state bytes
const (
	stateFileMagic   = "IFDS"
	stateFileVersion = 1

	fileKindFull uint8 = 0
	fileKindSeq  uint8 = 1
)

func tokenDigest(tokens []Token) uint64 {
	h := xxhash.New()
	var b [4]byte
	for _, t := range tokens {
		binary.LittleEndian.PutUint32(b[:], uint32(t))
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}

func encodeStateFile(kind uint8, seq int32, tokens []Token, state []byte) []byte {
	b := make([]byte, 0, 4+4+1+4+4+4*len(tokens)+8+8+len(state))
	b = append(b, stateFileMagic...)
	b = binary.LittleEndian.AppendUint32(b, stateFileVersion)
	b = append(b, kind)
	b = binary.LittleEndian.AppendUint32(b, uint32(seq))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(tokens)))
	for _, t := range tokens {
		b = binary.LittleEndian.AppendUint32(b, uint32(t))
	}
	b = binary.LittleEndian.AppendUint64(b, tokenDigest(tokens))
	b = binary.LittleEndian.AppendUint64(b, uint64(len(state)))
	return append(b, state...)
}

type stateFile struct {
	kind   uint8
	seq    int32
	tokens []Token
	state  []byte
}

func decodeStateFile(data []byte, maxTokens int) (*stateFile, error) {
	r := bytes.NewReader(data)
	var hdr struct {
		Magic   [4]byte
		Version uint32
		Kind    uint8
		Seq     int32
		NTokens uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidState, err)
	}
	if string(hdr.Magic[:]) != stateFileMagic || hdr.Version != stateFileVersion {
		return nil, fmt.Errorf("%w: bad magic or version %d", ErrInvalidState, hdr.Version)
	}
	if maxTokens >= 0 && int(hdr.NTokens) > maxTokens {
		return nil, fmt.Errorf("%w: state file holds %d tokens, limit %d", ErrCapacityExceeded, hdr.NTokens, maxTokens)
	}
	if int64(hdr.NTokens)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: truncated token list", ErrInvalidState)
	}
	tokens := make([]Token, hdr.NTokens)
	if err := binary.Read(r, binary.LittleEndian, tokens); err != nil {
		return nil, fmt.Errorf("%w: tokens: %v", ErrInvalidState, err)
	}
	var trailer struct {
		Digest uint64
		NState uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &trailer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if trailer.Digest != tokenDigest(tokens) {
		return nil, fmt.Errorf("%w: token digest mismatch", ErrInvalidState)
	}
	if trailer.NState == 0 || trailer.NState != uint64(r.Len()) {
		return nil, fmt.Errorf("%w: state length %d, %d bytes remain", ErrInvalidState, trailer.NState, r.Len())
	}
	state := make([]byte, trailer.NState)
	if _, err := io.ReadFull(r, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return &stateFile{kind: hdr.Kind, seq: hdr.Seq, tokens: tokens, state: state}, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SaveStateFile writes the whole context plus the tokens that produced it.
func (c *Context) SaveStateFile(path string, tokens []Token) error {
	state, err := c.StateBytes()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, encodeStateFile(fileKindFull, -1, tokens, state))
}

// LoadStateFile restores a file written by SaveStateFile and returns its
// tokens. Files holding more than maxTokens tokens are rejected before any
// memory is touched; a negative maxTokens disables the check.
func (c *Context) LoadStateFile(path string, maxTokens int) ([]Token, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sf, err := decodeStateFile(data, maxTokens)
	if err != nil {
		return nil, err
	}
	if sf.kind != fileKindFull {
		return nil, fmt.Errorf("%w: %s holds a sequence state", ErrInvalidState, path)
	}
	if _, err := c.StateRestore(sf.state); err != nil {
		return nil, err
	}
	c.tokens = append([]Token(nil), sf.tokens...)
	return sf.tokens, nil
}

// SaveSeqStateFile writes one sequence plus its tokens.
func (c *Context) SaveSeqStateFile(path string, seq int32, tokens []Token) error {
	state, err := c.StateSeqBytes(seq)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, encodeStateFile(fileKindSeq, seq, tokens, state))
}

// LoadSeqStateFile restores a sequence file into seq, which need not match
// the sequence it was saved from.
func (c *Context) LoadSeqStateFile(path string, seq int32, maxTokens int) ([]Token, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sf, err := decodeStateFile(data, maxTokens)
	if err != nil {
		return nil, err
	}
	if sf.kind != fileKindSeq {
		return nil, fmt.Errorf("%w: %s holds a full context state", ErrInvalidState, path)
	}
	if _, err := c.StateSeqRestore(seq, sf.state); err != nil {
		return nil, err
	}
	if seq == 0 {
		c.tokens = append([]Token(nil), sf.tokens...)
	}
	return sf.tokens, nil
}
