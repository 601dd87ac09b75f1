package indexes

import (
	c "github.com/varfish-org/varfish-server-sub005/models/constants"
)

// VariantRow is the shape of one pre-annotated variant document in the
// case-variants index. Documents are written by the external annotation
// pipeline; the engine only reads them.
type VariantRow struct {
	CaseId     string           `json:"caseId" mapstructure:"caseId"`
	AssemblyId c.GenomeAssembly `json:"assemblyId" mapstructure:"assemblyId"`

	Chrom string `json:"chrom" mapstructure:"chrom"`
	Pos   int    `json:"pos" mapstructure:"pos"` // 1-based start
	Ref   string `json:"ref" mapstructure:"ref"`
	Alt   string `json:"alt" mapstructure:"alt"`

	VariantType c.VariantType `json:"variantType" mapstructure:"variantType"`

	// member id -> genotype call with its quality metrics
	Genotypes map[string]MemberGenotype `json:"genotypes" mapstructure:"genotypes"`

	// population source name (e.g. "gnomad_exomes") -> annotation
	Frequencies map[string]FrequencyAnnotation `json:"frequencies" mapstructure:"frequencies"`

	Transcripts []TranscriptAnnotation `json:"transcripts" mapstructure:"transcripts"`
}

type MemberGenotype struct {
	// VCF-style call string: "0/0", "0/1", "1/1", "1", "0", "./."
	Gt string `json:"gt" mapstructure:"gt"`
	// read depth
	Dp int `json:"dp" mapstructure:"dp"`
	// alternate allele depth
	Ad int `json:"ad" mapstructure:"ad"`
	// genotype quality
	Gq int `json:"gq" mapstructure:"gq"`
}

// AlleleBalance is the fraction of reads supporting the alternate allele
func (g MemberGenotype) AlleleBalance() float64 {
	if g.Dp <= 0 {
		return 0
	}
	return float64(g.Ad) / float64(g.Dp)
}

type FrequencyAnnotation struct {
	Frequency    float64 `json:"frequency" mapstructure:"frequency"`
	Homozygous   int     `json:"homozygous" mapstructure:"homozygous"`
	Heterozygous int     `json:"heterozygous" mapstructure:"heterozygous"`
	Hemizygous   int     `json:"hemizygous" mapstructure:"hemizygous"`
}

func (f FrequencyAnnotation) Carriers() int {
	return f.Homozygous + f.Heterozygous + f.Hemizygous
}

type TranscriptAnnotation struct {
	GeneId         string           `json:"geneId" mapstructure:"geneId"`
	GeneSymbol     string           `json:"geneSymbol" mapstructure:"geneSymbol"`
	TranscriptId   string           `json:"transcriptId" mapstructure:"transcriptId"`
	TranscriptType c.TranscriptType `json:"transcriptType" mapstructure:"transcriptType"`
	Coding         bool             `json:"coding" mapstructure:"coding"`
	HgvsC          string           `json:"hgvsC" mapstructure:"hgvsC"`
	HgvsP          string           `json:"hgvsP" mapstructure:"hgvsP"`
	Consequences   []string         `json:"consequences" mapstructure:"consequences"`
	// nil when the transcript has no annotated exon distance
	DistanceToExon *int `json:"distanceToExon" mapstructure:"distanceToExon"`
}

// Gene is the shape of one document in the gene catalog index,
// used to resolve symbols, panels and phenotype terms to gene ids
type Gene struct {
	GeneId   string   `json:"geneId" mapstructure:"geneId"`
	Symbol   string   `json:"symbol" mapstructure:"symbol"`
	Chrom    string   `json:"chrom" mapstructure:"chrom"`
	Start    int      `json:"start" mapstructure:"start"`
	End      int      `json:"end" mapstructure:"end"`
	HpoTerms []string `json:"hpoTerms" mapstructure:"hpoTerms"`
	Panels   []string `json:"panels" mapstructure:"panels"`
}

// KnownFrequencySources are the population sources the annotation
// pipeline writes into the frequencies map of every variant document
var KnownFrequencySources = []string{
	"gnomad_exomes",
	"gnomad_genomes",
	"exac",
	"thousand_genomes",
	"inhouse",
}
