package sharing

// Arithmetic in GF(2^8) with the AES reduction polynomial x^8+x^4+x^3+x+1.
// Addition is XOR; multiplication and division go through log/exp tables
// built from the generator 0x03.

var (
	expTable [510]byte
	logTable [256]byte
)

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		expTable[i] = x
		logTable[x] = byte(i)
		x = xtimes(x) ^ x
	}
	for i := 255; i < len(expTable); i++ {
		expTable[i] = expTable[i-255]
	}
}

// xtimes multiplies by x modulo the reduction polynomial.
func xtimes(b byte) byte {
	hi := b & 0x80
	b <<= 1
	if hi != 0 {
		b ^= 0x1b
	}
	return b
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[int(logTable[a])+int(logTable[b])]
}

// gfDiv panics on b == 0; callers guarantee distinct non-zero indices.
func gfDiv(a, b byte) byte {
	if b == 0 {
		panic("sharing: division by zero in GF(256)")
	}
	if a == 0 {
		return 0
	}
	return expTable[int(logTable[a])+255-int(logTable[b])]
}

// evalPoly evaluates coeffs (constant term first) at x using Horner's rule.
func evalPoly(coeffs []byte, x byte) byte {
	var y byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = gfMul(y, x) ^ coeffs[i]
	}
	return y
}
