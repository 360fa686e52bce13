// Package keyd implements the custodial signing daemon: ETH/SOL wallet
// generation, AES-256-GCM encryption at rest under an Argon2id master
// key, and an ordered policy engine with persisted daily counters.
package keyd

import (
	"fmt"
	"math/big"
)

// fixedScale is the number of decimal places spec.md requires for
// spend tracking: 18-decimal fixed point, represented as a decimal
// string and never as a float.
const fixedScale = 18

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(fixedScale), nil)

// parseFixed parses a decimal string like "1.50" into its scaled
// big.Int representation (1500000000000000000 at scale 18).
func parseFixed(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}

	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole := s
	frac := ""
	for i, c := range s {
		if c == '.' {
			whole = s[:i]
			frac = s[i+1:]
			break
		}
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > fixedScale {
		return nil, fmt.Errorf("keyd: fixed-point value %q exceeds %d decimal places", s, fixedScale)
	}
	for len(frac) < fixedScale {
		frac += "0"
	}

	combined, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("keyd: invalid fixed-point value %q", s)
	}
	if neg {
		combined.Neg(combined)
	}
	return combined, nil
}

// formatFixed renders a scaled big.Int back to a decimal string.
func formatFixed(v *big.Int) string {
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	whole := new(big.Int)
	frac := new(big.Int)
	whole.DivMod(abs, scaleFactor, frac)

	fracStr := frac.String()
	for len(fracStr) < fixedScale {
		fracStr = "0" + fracStr
	}
	// trim trailing zeros but keep at least two decimal places for readability
	end := len(fracStr)
	for end > 2 && fracStr[end-1] == '0' {
		end--
	}
	fracStr = fracStr[:end]

	out := whole.String() + "." + fracStr
	if neg {
		out = "-" + out
	}
	return out
}

// addFixed adds two fixed-point decimal strings, returning the sum as
// a decimal string.
func addFixed(a, b string) (string, error) {
	av, err := parseFixed(a)
	if err != nil {
		return "", err
	}
	bv, err := parseFixed(b)
	if err != nil {
		return "", err
	}
	return formatFixed(new(big.Int).Add(av, bv)), nil
}

// exceedsFixed reports whether value > cap. An empty cap means no
// limit is configured.
func exceedsFixed(value, cap string) (bool, error) {
	if cap == "" {
		return false, nil
	}
	vv, err := parseFixed(value)
	if err != nil {
		return false, err
	}
	cv, err := parseFixed(cap)
	if err != nil {
		return false, err
	}
	return vv.Cmp(cv) > 0, nil
}
