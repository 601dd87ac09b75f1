package failMode

import (
	"errors"
	"strings"

	"github.com/varfish-org/varfish-server-sub005/models/constants"
)

// What happens to a candidate variant when a member's
// genotype-quality constraint fails (or no data is available)
const (
	// remove the candidate variant entirely
	DropVariant constants.FailMode = "drop-variant"
	// treat the member's genotype as unknown and keep evaluating
	NoCall constants.FailMode = "no-call"
	// treat the constraint as satisfied
	Ignore constants.FailMode = "ignore"
)

func CastToFailMode(text string) (constants.FailMode, error) {
	switch strings.ToLower(text) {
	case "", "no-call":
		return NoCall, nil
	case "drop-variant":
		return DropVariant, nil
	case "ignore":
		return Ignore, nil
	default:
		return NoCall, errors.New("unable to parse fail mode")
	}
}
