package service

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"

	"keen-oracle/internal/oracle"
)

// newTxID derives "<kind>_<16 hex>" from a Keccak-256 digest of the write's
// kind, actor, time and a process-wide sequence number.
func (s *Service) newTxID(kind string, actor oracle.Address) TxID {
	seq := s.txSeq.Add(1)

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(s.now().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], seq)

	digest := crypto.Keccak256Hash([]byte(kind), []byte(actor), buf[:], []byte(strconv.FormatUint(seq, 10)))
	return TxID(kind + "_" + hex.EncodeToString(digest.Bytes()[:8]))
}
