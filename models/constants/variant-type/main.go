package variantType

import (
	"errors"
	"strings"

	"github.com/varfish-org/varfish-server-sub005/models/constants"
)

const (
	Snv     constants.VariantType = "snv"
	Indel   constants.VariantType = "indel"
	Mnv     constants.VariantType = "mnv"
	Complex constants.VariantType = "complex"
)

func CastToVariantType(text string) (constants.VariantType, error) {
	switch strings.ToLower(text) {
	case "snv":
		return Snv, nil
	case "indel":
		return Indel, nil
	case "mnv":
		return Mnv, nil
	case "complex":
		return Complex, nil
	default:
		return Snv, errors.New("unable to parse variant type")
	}
}

// OfAlleles derives the variant type from the ref/alt allele strings
func OfAlleles(ref string, alt string) constants.VariantType {
	switch {
	case len(ref) == 1 && len(alt) == 1:
		return Snv
	case len(ref) == len(alt):
		return Mnv
	case len(ref) == 1 || len(alt) == 1:
		return Indel
	default:
		return Complex
	}
}
