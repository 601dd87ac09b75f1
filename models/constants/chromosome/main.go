package chromosome

import (
	"strconv"
	"strings"
)

const ChromosomeX = "X"
const ChromosomeY = "Y"
const ChromosomeMt = "MT"

// Normalize strips a leading "chr" prefix and upper-cases
// the non-autosomal chromosome names
func Normalize(chrom string) string {
	chrom = strings.TrimPrefix(strings.TrimSpace(chrom), "chr")
	switch strings.ToUpper(chrom) {
	case "X":
		return ChromosomeX
	case "Y":
		return ChromosomeY
	case "M", "MT":
		return ChromosomeMt
	}
	return chrom
}

func IsValidHumanChromosome(text string) bool {
	chrom := Normalize(text)
	if chrom == ChromosomeX || chrom == ChromosomeY || chrom == ChromosomeMt {
		return true
	}

	i, conversionErr := strconv.Atoi(chrom)
	if conversionErr != nil {
		return false
	}
	return i >= 1 && i <= 22
}

func IsAutosome(chrom string) bool {
	_, err := strconv.Atoi(Normalize(chrom))
	return err == nil && IsValidHumanChromosome(chrom)
}

func IsX(chrom string) bool {
	return Normalize(chrom) == ChromosomeX
}

// Rank maps a chromosome name onto a total order used for
// deterministic result sorting (1-22, X, Y, MT)
func Rank(chrom string) int {
	normalized := Normalize(chrom)
	switch normalized {
	case ChromosomeX:
		return 23
	case ChromosomeY:
		return 24
	case ChromosomeMt:
		return 25
	}

	i, conversionErr := strconv.Atoi(normalized)
	if conversionErr != nil {
		// unknown contigs sort last
		return 26
	}
	return i
}
