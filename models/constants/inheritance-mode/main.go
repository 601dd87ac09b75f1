package inheritanceMode

import (
	"errors"
	"strings"

	"github.com/varfish-org/varfish-server-sub005/models/constants"
)

const (
	Any constants.InheritanceMode = "any"

	DeNovo              constants.InheritanceMode = "de_novo"
	Dominant            constants.InheritanceMode = "dominant"
	Recessive           constants.InheritanceMode = "recessive"
	HomozygousRecessive constants.InheritanceMode = "homozygous_recessive"
	CompoundHetRecessive constants.InheritanceMode = "compound_heterozygous_recessive"
	XRecessive          constants.InheritanceMode = "x_recessive"
	AffectedCarriers    constants.InheritanceMode = "affected_carriers"
)

func CastToInheritanceMode(text string) (constants.InheritanceMode, error) {
	switch strings.ToLower(text) {
	case "", "any":
		return Any, nil
	case "de_novo":
		return DeNovo, nil
	case "dominant":
		return Dominant, nil
	case "recessive":
		return Recessive, nil
	case "homozygous_recessive":
		return HomozygousRecessive, nil
	case "compound_heterozygous_recessive":
		return CompoundHetRecessive, nil
	case "x_recessive":
		return XRecessive, nil
	case "affected_carriers":
		return AffectedCarriers, nil
	default:
		return Any, errors.New("unable to parse inheritance mode")
	}
}
