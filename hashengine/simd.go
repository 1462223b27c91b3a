package hashengine

import (
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	sha256 "github.com/minio/sha256-simd"
)

const (
	chunkSize = 64
	// Serialized digest layout shared by crypto/sha256 and sha256-simd:
	// magic, eight state words, the pending block, the byte count.
	stateMagic   = "sha\x03"
	stateSize    = len(stateMagic) + 8*4 + chunkSize + 8
	stateWordOff = len(stateMagic)
	stateLenOff  = stateWordOff + 8*4 + chunkSize
)

// SIMD is the Engine backed by github.com/minio/sha256-simd, which picks the
// SHA-NI / AVX / NEON code paths available on the host.
type SIMD struct{}

func NewSIMD() *SIMD {
	return &SIMD{}
}

func (SIMD) ComputeMidstate(prefix []byte) (Midstate, error) {
	full := len(prefix) / chunkSize * chunkSize
	d := sha256.New()
	d.Write(prefix[:full])

	m, ok := d.(encoding.BinaryMarshaler)
	if !ok {
		return Midstate{}, ErrMidstateUnsupported
	}
	state, err := m.MarshalBinary()
	if err != nil {
		return Midstate{}, fmt.Errorf("marshal sha256 state: %w", err)
	}
	if len(state) != stateSize || string(state[:len(stateMagic)]) != stateMagic {
		return Midstate{}, ErrMidstateUnsupported
	}

	var ms Midstate
	for i := 0; i < 8; i++ {
		ms.H[i] = binary.BigEndian.Uint32(state[stateWordOff+4*i:])
	}
	ms.Len = uint64(full)
	ms.Tail = append([]byte(nil), prefix[full:]...)
	return ms, nil
}

// restoreState builds the serialized digest for a midstate taken on a block
// boundary, so the pending block is empty.
func restoreState(h *[8]uint32, length uint64) []byte {
	state := make([]byte, stateSize)
	copy(state, stateMagic)
	for i := 0; i < 8; i++ {
		binary.BigEndian.PutUint32(state[stateWordOff+4*i:], h[i])
	}
	binary.BigEndian.PutUint64(state[stateLenOff:], length)
	return state
}

func (SIMD) MineBatch(p *BatchParams, startNonce, stride int64, batchSize uint32) (*Result, error) {
	if p.MidstateLen%chunkSize != 0 {
		return nil, fmt.Errorf("midstate length %d is not block aligned", p.MidstateLen)
	}
	state := restoreState(&p.H, p.MidstateLen)

	d := sha256.New()
	u, ok := d.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, ErrMidstateUnsupported
	}

	var nonceBuf [20]byte
	var sum [32]byte
	nonce := startNonce
	for i := uint32(0); i < batchSize; i++ {
		if err := u.UnmarshalBinary(state); err != nil {
			return nil, fmt.Errorf("restore sha256 state: %w", err)
		}
		d.Write(p.PrefixTail)
		d.Write(strconv.AppendInt(nonceBuf[:0], nonce, 10))
		d.Write(p.Suffix)
		d.Sum(sum[:0])

		if MeetsDifficultyBytes(&sum, p.DiffBits) {
			return &Result{Nonce: nonce, Hash: hex.EncodeToString(sum[:])}, nil
		}
		nonce += stride
	}
	return nil, nil
}

func (SIMD) MerkleRoot(txLines string) string {
	return merkleRoot(splitLines(txLines))
}

func (SIMD) HashBlock(index, timestamp int64, txData, previousHash string, nonce int64, difficulty int) string {
	buf := make([]byte, 0, 64+len(txData)+len(previousHash))
	buf = strconv.AppendInt(buf, index, 10)
	buf = strconv.AppendInt(buf, timestamp, 10)
	buf = append(buf, txData...)
	buf = append(buf, previousHash...)
	buf = strconv.AppendInt(buf, nonce, 10)
	buf = strconv.AppendInt(buf, int64(difficulty), 10)
	return sha256Hex(buf)
}

func (SIMD) SHA256Hex(data []byte) string {
	return sha256Hex(data)
}

func (SIMD) MeetsDifficulty(hashHex string, diffBits int) bool {
	return meetsDifficultyHex(hashHex, diffBits)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
