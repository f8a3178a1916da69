package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"

	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// Public-key recovery on NIST P-256. The compact layout matches the
// secp256k1 one: header = 27 + recovery_id + 4, where bit 0 of the recovery
// id is the parity of R.y and bit 1 marks r values that wrapped past the
// group order.

func recoverP256(digest, sig []byte) (PublicKey, error) {
	curve := elliptic.P256()
	params := curve.Params()

	header := sig[0]
	if header < 27 || header >= 35 {
		return PublicKey{}, apierrors.ErrMalformedSignature
	}
	recID := int(header-27) & 3

	r := new(big.Int).SetBytes(sig[1:33])
	s := new(big.Int).SetBytes(sig[33:65])
	if r.Sign() <= 0 || r.Cmp(params.N) >= 0 || s.Sign() <= 0 || s.Cmp(params.N) >= 0 {
		return PublicKey{}, apierrors.ErrMalformedSignature
	}

	// Reconstruct the ephemeral point R from r and the recovery id.
	x := new(big.Int).Set(r)
	if recID&2 != 0 {
		x.Add(x, params.N)
	}
	if x.Cmp(params.P) >= 0 {
		return PublicKey{}, apierrors.ErrMalformedSignature
	}
	y, err := yFromX(params, x)
	if err != nil {
		return PublicKey{}, apierrors.ErrMalformedSignature
	}
	if int(y.Bit(0)) != recID&1 {
		y.Sub(params.P, y)
	}

	// Q = r^-1 (s*R - e*G)
	e := hashToInt(digest, params.N)
	rInv := new(big.Int).ModInverse(r, params.N)

	srX, srY := curve.ScalarMult(x, y, s.Bytes())
	negE := new(big.Int).Neg(e)
	negE.Mod(negE, params.N)
	egX, egY := curve.ScalarBaseMult(negE.Bytes())
	sumX, sumY := curve.Add(srX, srY, egX, egY)

	qX, qY := curve.ScalarMult(sumX, sumY, rInv.Bytes())
	if qX.Sign() == 0 && qY.Sign() == 0 {
		return PublicKey{}, apierrors.ErrMalformedSignature
	}

	return PublicKey{
		Algorithm: AlgorithmNistP256,
		Data:      elliptic.MarshalCompressed(curve, qX, qY),
	}, nil
}

func signP256(priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	curve := elliptic.P256()
	params := curve.Params()

	if priv.Curve != curve {
		return nil, errors.New("private key is not on P-256")
	}

	e := hashToInt(digest, params.N)

	for {
		k, err := rand.Int(rand.Reader, new(big.Int).Sub(params.N, big.NewInt(1)))
		if err != nil {
			return nil, err
		}
		k.Add(k, big.NewInt(1))

		rX, rY, err := ephemeral(curve, k)
		if err != nil {
			return nil, err
		}

		r := new(big.Int).Mod(rX, params.N)
		if r.Sign() == 0 {
			continue
		}

		recID := 0
		if rY.Bit(0) == 1 {
			recID |= 1
		}
		if rX.Cmp(params.N) >= 0 {
			recID |= 2
		}

		// s = k^-1 (e + r*d) mod n
		s := new(big.Int).Mul(r, priv.D)
		s.Add(s, e)
		s.Mul(s, new(big.Int).ModInverse(k, params.N))
		s.Mod(s, params.N)
		if s.Sign() == 0 {
			continue
		}

		sig := make([]byte, SignatureSize)
		sig[0] = byte(27 + recID + 4)
		r.FillBytes(sig[1:33])
		s.FillBytes(sig[33:65])
		return sig, nil
	}
}

func ephemeral(curve elliptic.Curve, k *big.Int) (*big.Int, *big.Int, error) {
	x, y := curve.ScalarBaseMult(k.Bytes())
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, nil, errors.New("degenerate ephemeral point")
	}
	return x, y, nil
}

// yFromX solves the curve equation y^2 = x^3 - 3x + b for y.
func yFromX(params *elliptic.CurveParams, x *big.Int) (*big.Int, error) {
	y2 := new(big.Int).Mul(x, x)
	y2.Mul(y2, x)
	threeX := new(big.Int).Lsh(x, 1)
	threeX.Add(threeX, x)
	y2.Sub(y2, threeX)
	y2.Add(y2, params.B)
	y2.Mod(y2, params.P)

	y := new(big.Int).ModSqrt(y2, params.P)
	if y == nil {
		return nil, errors.New("x is not on the curve")
	}
	return y, nil
}

// hashToInt converts a digest to an integer reduced into the group order.
func hashToInt(digest []byte, n *big.Int) *big.Int {
	e := new(big.Int).SetBytes(digest)
	if excess := len(digest)*8 - n.BitLen(); excess > 0 {
		e.Rsh(e, uint(excess))
	}
	return e.Mod(e, n)
}
