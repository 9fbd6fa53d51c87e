package exchange

import (
	"bytes"

	"github.com/dave/stablegob"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

func stableGobEncode(v interface{}) []byte {
	var buf bytes.Buffer
	enc := stablegob.NewEncoder(&buf)
	err := enc.Encode(v)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// solutionDigest is a deterministic fingerprint of an accepted
// solution, used to correlate competing solver submissions in logs
// and events.
func solutionDigest(rec SolutionRecord) common.Hash {
	return common.Hash(sha3.Sum256(stableGobEncode(rec)))
}
