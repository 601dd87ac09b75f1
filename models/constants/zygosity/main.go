package zygosity

import (
	"github.com/varfish-org/varfish-server-sub005/models/constants"
)

const (
	Unknown constants.Zygosity = iota
	// Diploid
	Heterozygous
	HomozygousReference
	HomozygousAlternate

	// Haploid (hemizygous calls on X/Y/MT)
	HemizygousReference
	HemizygousAlternate
)

func IsKnown(value int) bool {
	return value > int(Unknown) && value <= int(HemizygousAlternate)
}

// CarriesAlternate reports whether at least one variant allele is present
func CarriesAlternate(zyg constants.Zygosity) bool {
	return zyg == Heterozygous || zyg == HomozygousAlternate || zyg == HemizygousAlternate
}

// IsReference reports a call with no variant allele at all
func IsReference(zyg constants.Zygosity) bool {
	return zyg == HomozygousReference || zyg == HemizygousReference
}

func ZygosityToString(zyg constants.Zygosity) string {
	switch zyg {
	// Haploid
	case HemizygousReference:
		return "HEMIZYGOUS_REFERENCE"
	case HemizygousAlternate:
		return "HEMIZYGOUS_ALTERNATE"

	// Diploid
	case Heterozygous:
		return "HETEROZYGOUS"
	case HomozygousReference:
		return "HOMOZYGOUS_REFERENCE"
	case HomozygousAlternate:
		return "HOMOZYGOUS_ALTERNATE"
	default:
		return "UNKNOWN"
	}
}
