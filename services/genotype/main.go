package genotype

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ahmetb/go-linq"

	c "github.com/varfish-org/varfish-server-sub005/models/constants"
	"github.com/varfish-org/varfish-server-sub005/models/constants/chromosome"
	failMode "github.com/varfish-org/varfish-server-sub005/models/constants/fail-mode"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	z "github.com/varfish-org/varfish-server-sub005/models/constants/zygosity"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
)

// ZygosityOf parses a VCF-style call string ("0/1", "1|1", "1", "./.")
// into a zygosity; any unparsable or missing component yields Unknown
func ZygosityOf(gt string) c.Zygosity {
	gt = strings.TrimSpace(gt)
	if gt == "" {
		return z.Unknown
	}

	if !strings.Contains(gt, "/") && !strings.Contains(gt, "|") {
		// haploid
		allele, err := strconv.Atoi(gt)
		if err != nil {
			return z.Unknown
		}
		if allele == 0 {
			return z.HemizygousReference
		}
		return z.HemizygousAlternate
	}

	// diploid
	separator := "/"
	if strings.Contains(gt, "|") {
		separator = "|"
	}
	alleleStrings := strings.Split(gt, separator)
	if len(alleleStrings) != 2 {
		return z.Unknown
	}

	left, errLeft := strconv.Atoi(alleleStrings[0])
	right, errRight := strconv.Atoi(alleleStrings[1])
	if errLeft != nil || errRight != nil {
		return z.Unknown
	}

	switch {
	case left == 0 && right == 0:
		return z.HomozygousReference
	case left != 0 && right != 0:
		return z.HomozygousAlternate
	default:
		return z.Heterozygous
	}
}

// normalizeCall makes "0|1", "1/0" and "0/1" compare equal
func normalizeCall(gt string) string {
	gt = strings.ReplaceAll(strings.TrimSpace(gt), "|", "/")
	parts := strings.Split(gt, "/")
	sort.Strings(parts)
	return strings.Join(parts, "/")
}

type ConstraintResult int

const (
	Pass ConstraintResult = iota
	Fail
	NoData
)

// EvaluateConstraint checks one member's genotype/quality constraint
// against one variant; a member without genotype data yields NoData
func EvaluateConstraint(row *indexes.VariantRow, member *pedigree.Member, constraint *settings.MemberConstraint) ConstraintResult {
	if member == nil || !member.HasGenotypeData {
		return NoData
	}
	observed, present := row.Genotypes[member.Id]
	if !present || ZygosityOf(observed.Gt) == z.Unknown {
		return NoData
	}

	if constraint.ExactCall != "" && normalizeCall(constraint.ExactCall) != normalizeCall(observed.Gt) {
		return Fail
	}
	if constraint.MinDp != nil && observed.Dp < *constraint.MinDp {
		return Fail
	}
	if constraint.MinAd != nil && observed.Ad < *constraint.MinAd {
		return Fail
	}
	if constraint.MinGq != nil && observed.Gq < *constraint.MinGq {
		return Fail
	}
	// allele balance only constrains heterozygous calls
	if constraint.MinAb != nil && ZygosityOf(observed.Gt) == z.Heterozygous &&
		observed.AlleleBalance() < *constraint.MinAb {
		return Fail
	}

	return Pass
}

// EffectiveCalls applies every member constraint to the variant and
// returns the calls the inheritance-mode logic reasons over. A failing
// (or no-data) constraint is resolved through the member's fail mode:
// drop-variant discards the candidate (keep=false), no-call degrades the
// member's call to Unknown, ignore keeps the observed call.
func EffectiveCalls(row *indexes.VariantRow, ped *pedigree.Pedigree, constraints map[string]*settings.MemberConstraint) (map[string]c.Zygosity, bool) {
	calls := make(map[string]c.Zygosity, len(ped.Members))

	for _, member := range ped.Members {
		observedZygosity := z.Unknown
		if observed, present := row.Genotypes[member.Id]; present && member.HasGenotypeData {
			observedZygosity = ZygosityOf(observed.Gt)
		}

		constraint := constraints[member.Id]
		if constraint == nil {
			calls[member.Id] = observedZygosity
			continue
		}

		switch EvaluateConstraint(row, member, constraint) {
		case Pass:
			calls[member.Id] = observedZygosity
		default: // Fail and NoData resolve identically, through the fail mode
			switch constraint.NormalizedFailMode() {
			case failMode.DropVariant:
				return nil, false
			case failMode.Ignore:
				calls[member.Id] = observedZygosity
			default: // no-call
				calls[member.Id] = z.Unknown
			}
		}
	}

	return calls, true
}

func callOf(calls map[string]c.Zygosity, member *pedigree.Member) c.Zygosity {
	if member == nil {
		return z.Unknown
	}
	return calls[member.Id]
}

// referenceOrNoCall: the member documents no variant allele
func referenceOrNoCall(zyg c.Zygosity) bool {
	return zyg == z.Unknown || z.IsReference(zyg)
}

// heterozygousOrNoCall: carrier requirement with absent/no-call leniency
func heterozygousOrNoCall(zyg c.Zygosity) bool {
	return zyg == z.Unknown || zyg == z.Heterozygous
}

// MatchesMode evaluates the cross-member genotype requirement of every
// inheritance mode except compound-heterozygous, which needs cross-row
// reasoning and runs as a second pass (see PairCompoundHeterozygous)
func MatchesMode(mode c.InheritanceMode, ped *pedigree.Pedigree, row *indexes.VariantRow, calls map[string]c.Zygosity) bool {
	index := ped.Index()
	indexCall := callOf(calls, index)
	fatherCall := callOf(calls, ped.Father(index))
	motherCall := callOf(calls, ped.Mother(index))

	switch mode {
	case inheritanceMode.Any:
		return true

	case inheritanceMode.DeNovo:
		return z.CarriesAlternate(indexCall) &&
			referenceOrNoCall(fatherCall) &&
			referenceOrNoCall(motherCall)

	case inheritanceMode.Dominant:
		for _, member := range ped.Members {
			memberCall := calls[member.Id]
			if memberCall == z.Unknown {
				continue
			}
			if member.Affected == pedigree.AffectedYes && !z.CarriesAlternate(memberCall) {
				return false
			}
			if member.Affected == pedigree.AffectedNo && !z.IsReference(memberCall) {
				return false
			}
		}
		return z.CarriesAlternate(indexCall) || indexCall == z.Unknown

	case inheritanceMode.Recessive:
		return matchesRecessive(ped, row, indexCall, fatherCall, motherCall, false)

	case inheritanceMode.HomozygousRecessive:
		return matchesRecessive(ped, row, indexCall, fatherCall, motherCall, true)

	case inheritanceMode.XRecessive:
		return matchesXRecessive(ped, row, indexCall, fatherCall, motherCall)

	case inheritanceMode.AffectedCarriers:
		for _, member := range ped.Members {
			memberCall := calls[member.Id]
			if member.Affected == pedigree.AffectedYes &&
				memberCall != z.Unknown && !z.CarriesAlternate(memberCall) {
				return false
			}
		}
		return true

	case inheritanceMode.CompoundHetRecessive:
		// candidate pre-filter: index must be heterozygous; the pairing
		// pass decides which heterozygous candidates survive
		return indexCall == z.Heterozygous
	}

	return false
}

func homozygousOrHemizygousAlternate(zyg c.Zygosity, onX bool, male bool) bool {
	if zyg == z.HomozygousAlternate {
		return true
	}
	// a male index on X is hemizygous even when the caller emitted a diploid call
	return onX && male && zyg == z.HemizygousAlternate
}

func matchesRecessive(ped *pedigree.Pedigree, row *indexes.VariantRow, indexCall, fatherCall, motherCall c.Zygosity, strictParents bool) bool {
	index := ped.Index()
	onX := chromosome.IsX(row.Chrom)
	male := index != nil && index.Sex == pedigree.SexMale

	if !homozygousOrHemizygousAlternate(indexCall, onX, male) {
		return false
	}

	if strictParents {
		// both parents must be present, genotyped and heterozygous
		father := ped.Father(index)
		mother := ped.Mother(index)
		if father == nil || mother == nil || !father.HasGenotypeData || !mother.HasGenotypeData {
			return false
		}
		return fatherCall == z.Heterozygous && motherCall == z.Heterozygous
	}

	return heterozygousOrNoCall(fatherCall) && heterozygousOrNoCall(motherCall)
}

func matchesXRecessive(ped *pedigree.Pedigree, row *indexes.VariantRow, indexCall, fatherCall, motherCall c.Zygosity) bool {
	if !chromosome.IsX(row.Chrom) {
		return false
	}

	index := ped.Index()
	father := ped.Father(index)
	male := index != nil && index.Sex == pedigree.SexMale

	if male {
		// hemizygous index; carrier mother; the father contributes no X
		// to a male index and must not carry the allele unless affected
		if indexCall != z.HemizygousAlternate && indexCall != z.HomozygousAlternate {
			return false
		}
		fatherOk := referenceOrNoCall(fatherCall) ||
			(father != nil && father.Affected == pedigree.AffectedYes)
		return heterozygousOrNoCall(motherCall) && fatherOk
	}

	// female index: homozygous, carrier mother, hemizygous (affected) father
	if indexCall != z.HomozygousAlternate {
		return false
	}
	fatherCarrier := fatherCall == z.Unknown || z.CarriesAlternate(fatherCall)
	return heterozygousOrNoCall(motherCall) && fatherCarrier
}

// Candidate couples a variant row with the effective calls it was
// admitted under; the compound-het pass reasons over these pairs
type Candidate struct {
	Row   *indexes.VariantRow
	Calls map[string]c.Zygosity
}

// CanonicalGeneId groups by a canonical gene identifier rather than a
// transcript id to avoid under-counting genes with many transcripts:
// the lexicographically smallest gene id, preferring coding transcripts
func CanonicalGeneId(row *indexes.VariantRow) string {
	canonical := ""
	pick := func(geneId string) {
		if geneId != "" && (canonical == "" || geneId < canonical) {
			canonical = geneId
		}
	}

	for _, transcript := range row.Transcripts {
		if transcript.Coding {
			pick(transcript.GeneId)
		}
	}
	if canonical != "" {
		return canonical
	}
	for _, transcript := range row.Transcripts {
		pick(transcript.GeneId)
	}
	return canonical
}

// PairCompoundHeterozygous is the second pass of the compound-het mode:
// pass 1 groups index-heterozygous candidates by canonical gene id,
// pass 2 keeps every candidate that participates in at least one
// cross-parent-consistent pair (all eligible combinations, not just the
// first pair found). Genes with fewer than two qualifying variants are
// dropped entirely.
func PairCompoundHeterozygous(ped *pedigree.Pedigree, candidates []*Candidate) []*Candidate {
	index := ped.Index()
	father := ped.Father(index)
	mother := ped.Mother(index)

	var groups []linq.Group
	linq.From(candidates).GroupByT(
		func(candidate *Candidate) string { return CanonicalGeneId(candidate.Row) },
		func(candidate *Candidate) *Candidate { return candidate },
	).ToSlice(&groups)

	retained := map[*Candidate]bool{}
	for _, group := range groups {
		geneId, _ := group.Key.(string)
		if geneId == "" {
			// candidates without any gene annotation cannot be paired
			continue
		}

		geneCandidates := make([]*Candidate, 0, len(group.Group))
		for _, item := range group.Group {
			geneCandidates = append(geneCandidates, item.(*Candidate))
		}
		if len(geneCandidates) < 2 {
			continue
		}

		for i := 0; i < len(geneCandidates); i++ {
			for j := i + 1; j < len(geneCandidates); j++ {
				if pairTracesToDifferentParents(father, mother, geneCandidates[i], geneCandidates[j]) {
					retained[geneCandidates[i]] = true
					retained[geneCandidates[j]] = true
				}
			}
		}
	}

	// preserve the incoming (deterministic) candidate order
	paired := make([]*Candidate, 0, len(retained))
	for _, candidate := range candidates {
		if retained[candidate] {
			paired = append(paired, candidate)
		}
	}
	return paired
}

// pairTracesToDifferentParents checks that one variant of the pair came
// from each parent: one parent heterozygous for the first and reference
// for the second, the other parent vice versa. Parents without genotype
// data do not constrain the pairing.
func pairTracesToDifferentParents(father, mother *pedigree.Member, first, second *Candidate) bool {
	fatherHasData := father != nil && father.HasGenotypeData
	motherHasData := mother != nil && mother.HasGenotypeData

	hetFor := func(member *pedigree.Member, candidate *Candidate) bool {
		return candidate.Calls[member.Id] == z.Heterozygous
	}
	refFor := func(member *pedigree.Member, candidate *Candidate) bool {
		return z.IsReference(candidate.Calls[member.Id])
	}

	if fatherHasData && motherHasData {
		orientationA := hetFor(father, first) && refFor(father, second) &&
			hetFor(mother, second) && refFor(mother, first)
		orientationB := hetFor(father, second) && refFor(father, first) &&
			hetFor(mother, first) && refFor(mother, second)
		return orientationA || orientationB
	}

	if fatherHasData {
		return (hetFor(father, first) && refFor(father, second)) ||
			(hetFor(father, second) && refFor(father, first))
	}
	if motherHasData {
		return (hetFor(mother, first) && refFor(mother, second)) ||
			(hetFor(mother, second) && refFor(mother, first))
	}

	// no parental data: any two distinct heterozygous variants qualify
	return true
}
