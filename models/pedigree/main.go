package pedigree

import (
	"fmt"

	"github.com/varfish-org/varfish-server-sub005/models/constants"
)

const (
	SexUnknown constants.Sex = "unknown"
	SexMale    constants.Sex = "male"
	SexFemale  constants.Sex = "female"
)

const (
	AffectedUnknown constants.AffectedStatus = "unknown"
	AffectedNo      constants.AffectedStatus = "no"
	AffectedYes     constants.AffectedStatus = "yes"
)

// founders carry "0" (or empty) parent references
const NoParent = "0"

type Member struct {
	Id              string                   `json:"id"`
	FatherId        string                   `json:"fatherId"`
	MotherId        string                   `json:"motherId"`
	Sex             constants.Sex            `json:"sex"`
	Affected        constants.AffectedStatus `json:"affected"`
	HasGenotypeData bool                     `json:"hasGenotypeData"`
}

func (m *Member) IsFounder() bool {
	return !hasParentRef(m.FatherId) && !hasParentRef(m.MotherId)
}

type Pedigree struct {
	CaseId  string    `json:"caseId"`
	Members []*Member `json:"members"`
}

func hasParentRef(id string) bool {
	return id != "" && id != NoParent
}

func (p *Pedigree) Member(id string) *Member {
	for _, m := range p.Members {
		if m.Id == id {
			return m
		}
	}
	return nil
}

func (p *Pedigree) HasMember(id string) bool {
	return p.Member(id) != nil
}

// Index returns the primary affected individual: the first member
// (in pedigree order) that is documented-affected and has genotype data
func (p *Pedigree) Index() *Member {
	for _, m := range p.Members {
		if m.Affected == AffectedYes && m.HasGenotypeData {
			return m
		}
	}
	return nil
}

func (p *Pedigree) Father(m *Member) *Member {
	if m == nil || !hasParentRef(m.FatherId) {
		return nil
	}
	return p.Member(m.FatherId)
}

func (p *Pedigree) Mother(m *Member) *Member {
	if m == nil || !hasParentRef(m.MotherId) {
		return nil
	}
	return p.Member(m.MotherId)
}

// Validate checks the structural invariants: unique member ids, every
// non-null parent reference resolves within the pedigree, parent sexes
// are consistent, and the parent graph carries no cycles
func (p *Pedigree) Validate() error {
	if len(p.Members) == 0 {
		return fmt.Errorf("pedigree for case %s has no members", p.CaseId)
	}

	seen := map[string]bool{}
	for _, m := range p.Members {
		if m.Id == "" || m.Id == NoParent {
			return fmt.Errorf("invalid member id '%s'", m.Id)
		}
		if seen[m.Id] {
			return fmt.Errorf("duplicate member id '%s'", m.Id)
		}
		seen[m.Id] = true
	}

	for _, m := range p.Members {
		for _, parentId := range []string{m.FatherId, m.MotherId} {
			if hasParentRef(parentId) && !seen[parentId] {
				return fmt.Errorf("member %s references unknown parent '%s'", m.Id, parentId)
			}
		}
		if father := p.Father(m); father != nil && father.Sex == SexFemale {
			return fmt.Errorf("father of member %s is documented female", m.Id)
		}
		if mother := p.Mother(m); mother != nil && mother.Sex == SexMale {
			return fmt.Errorf("mother of member %s is documented male", m.Id)
		}
	}

	// walk upwards from every member; revisiting a node on the same
	// walk means the parent references form a cycle
	for _, m := range p.Members {
		if err := p.walkAncestors(m, map[string]bool{}); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pedigree) walkAncestors(m *Member, visited map[string]bool) error {
	if m == nil {
		return nil
	}
	if visited[m.Id] {
		return fmt.Errorf("pedigree contains a parent cycle through member %s", m.Id)
	}
	visited[m.Id] = true

	// each branch walks its own path copy so that a shared ancestor
	// (consanguinity) is not mistaken for a cycle
	if err := p.walkAncestors(p.Father(m), copyVisited(visited)); err != nil {
		return err
	}
	return p.walkAncestors(p.Mother(m), copyVisited(visited))
}

func copyVisited(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
