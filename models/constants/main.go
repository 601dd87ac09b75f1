package constants

type Chromosome string

type Zygosity int

type Sex string

type AffectedStatus string

type InheritanceMode string

type FailMode string

type VariantType string

type TranscriptType string

type SortDirection string

type GenomeAssembly string
