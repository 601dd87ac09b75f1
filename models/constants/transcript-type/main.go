package transcriptType

import (
	"errors"
	"strings"

	"github.com/varfish-org/varfish-server-sub005/models/constants"
)

const (
	Coding    constants.TranscriptType = "coding"
	NonCoding constants.TranscriptType = "non_coding"
)

func CastToTranscriptType(text string) (constants.TranscriptType, error) {
	switch strings.ToLower(text) {
	case "coding":
		return Coding, nil
	case "non_coding", "non-coding":
		return NonCoding, nil
	default:
		return Coding, errors.New("unable to parse transcript type")
	}
}
