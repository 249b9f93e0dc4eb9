// Package assign routes experiment subjects to variants by consistent hashing.
package assign

import (
	"crypto/md5" //nolint:gosec // bucketing, not security
	"math/big"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

const (
	separator = ":"
	buckets   = 100
)

var bucketMod = big.NewInt(buckets)

// Bucket maps a (subject, experiment) pair onto [0, 99]. The full 128-bit MD5
// digest is read as a big-endian integer and reduced mod 100.
func Bucket(subjectID, experimentID string) int {
	sum := md5.Sum([]byte(subjectID + separator + experimentID)) //nolint:gosec
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, bucketMod).Int64())
}

// Assign returns the variant for a subject. Subjects whose bucket is below
// split go to treatment; the rest go to control.
//
// Changing split for a running experiment moves only the subjects whose
// bucket falls between the old and new split; nobody is rebalanced.
func Assign(subjectID, experimentID string, split int) (model.Variant, error) {
	if subjectID == "" {
		return "", model.InvalidInputf("assign: subject id is required")
	}
	if experimentID == "" {
		return "", model.InvalidInputf("assign: experiment id is required")
	}
	if split < 0 || split > 100 {
		return "", model.InvalidInputf("assign: traffic split %d outside [0,100]", split)
	}

	if Bucket(subjectID, experimentID) < split {
		return model.VariantTreatment, nil
	}
	return model.VariantControl, nil
}
