// Package assembler implements the Section Assembler: it turns a
// resolver.Answer's flat, unordered item list into a properly sectioned
// DNS reply, flattening alias chains and filtering DNSSEC metadata the
// client didn't ask to see.
//
// Four passes, applied in order (Invariants A-D):
//
//	A. Alias-chain flattening: starting from the question name, CNAME/
//	   DNAME items are followed in answer order until the chain
//	   terminates, bounded at MaxAliasChain hops. A chain that revisits
//	   an owner name is marked as a loop and assembly stops with
//	   whatever was gathered.
//	B. Section placement: ANSWER is built from items matching the
//	   question name/type/class directly plus every alias RR traversed
//	   to reach them — the source item's section hint is ignored here.
//	   AUTHORITY takes items hinted AUTHORITY not already in ANSWER.
//	   ADDITIONAL takes items hinted ANSWER/ADDITIONAL or with no hint
//	   at all, excluding anything already placed.
//	C. DNSSEC filtering: RRSIG/NSEC/NSEC3/DNSKEY/DS/NSEC3PARAM/CDS/
//	   CDNSKEY records are dropped unless wantDNSSEC (edns0_do) holds, in
//	   which case each item's Sig sidecar (if any) is emitted alongside
//	   it in the same section.
//	D. Cross-section dedup: an (owner, class, type) key already placed
//	   in ANSWER is removed from AUTHORITY and ADDITIONAL; a key already
//	   in AUTHORITY is removed from ADDITIONAL.
package assembler

import (
	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/resolver"
)

// MaxAliasChain bounds alias-chain flattening (CNAME/DNAME hops) to
// match common recursive-resolver chain limits and prevent a malicious
// or buggy upstream from forcing unbounded work.
const MaxAliasChain = 16

// Assembled holds the three sectioned RR slices ready for the Reply
// Finalizer.
type Assembled struct {
	Answer     []dnswire.Record
	Authority  []dnswire.Record
	Additional []dnswire.Record
	Looped     bool // true if alias-chain flattening hit a cycle or exceeded MaxAliasChain
}

// Assemble runs the four-pass algorithm over ans.Items for the given
// question, honoring wantDNSSEC (edns0_do: the client's EDNS(0) DO bit,
// gated on the answer's DNSSEC status the same way the finalizer gates it).
func Assemble(question dnswire.Question, ans resolver.Answer, wantDNSSEC bool) Assembled {
	// Invariant C, applied up front: a DNSSEC meta-type is dropped from
	// every section when wantDNSSEC is false, so it never
	// competes for placement or occupies a dedup key in the first place.
	items := ans.Items
	if !wantDNSSEC {
		filtered := make([]resolver.AnswerItem, 0, len(items))
		for _, it := range items {
			if dnswire.IsDNSSECMeta(it.RR.Type()) {
				continue
			}
			filtered = append(filtered, it)
		}
		items = filtered
	}

	chain := flattenAliasChain(question, items)

	out := Assembled{Looped: chain.looped}
	placed := make(map[dnswire.Key]struct{})

	place := func(dst *[]dnswire.Record, it resolver.AnswerItem) {
		*dst = append(*dst, it.RR)
		placed[dnswire.KeyOf(it.RR)] = struct{}{}
		if wantDNSSEC && it.Sig != nil {
			*dst = append(*dst, it.Sig)
			placed[dnswire.KeyOf(it.Sig)] = struct{}{}
		}
	}

	// Pass B.1 — ANSWER: question-direct matches plus traversed aliases.
	for _, it := range chain.ordered {
		place(&out.Answer, it)
	}

	// Pass B.2 — AUTHORITY: hinted items not already in ANSWER.
	for _, it := range items {
		if it.Section != resolver.SectionAuthority {
			continue
		}
		if _, dup := placed[dnswire.KeyOf(it.RR)]; dup {
			continue
		}
		place(&out.Authority, it)
	}

	// Pass B.3 — ADDITIONAL: hinted ANSWER/ADDITIONAL or no hint at all,
	// excluding anything already placed.
	for _, it := range items {
		if it.Section != resolver.SectionAnswer && it.Section != resolver.SectionAdditional && it.Section != resolver.SectionNone {
			continue
		}
		if _, dup := placed[dnswire.KeyOf(it.RR)]; dup {
			continue
		}
		place(&out.Additional, it)
	}

	return out
}

type chainResult struct {
	ordered []resolver.AnswerItem
	looped  bool
}

// flattenAliasChain walks CNAME/DNAME items starting from the question
// name, in answer order, following each alias to its target until a
// non-alias terminal is reached, the chain is exhausted, a hop limit is
// hit, or a previously-visited owner name recurs (a loop). Only items
// that match the question's type/class directly, or that are the alias
// records driving the chain itself, are included in the result — a
// same-owner item of an unrelated type is left for the hint-based
// passes to place.
func flattenAliasChain(question dnswire.Question, items []resolver.AnswerItem) chainResult {
	byOwner := make(map[string][]resolver.AnswerItem, len(items))
	for _, it := range items {
		name := dnswire.NormalizeName(it.RR.Header().Name)
		byOwner[name] = append(byOwner[name], it)
	}

	visited := make(map[string]struct{})
	var result []resolver.AnswerItem

	current := dnswire.NormalizeName(question.Name)
	for hop := 0; hop <= MaxAliasChain; hop++ {
		if _, ok := visited[current]; ok {
			return chainResult{ordered: result, looped: true}
		}
		visited[current] = struct{}{}

		group, ok := byOwner[current]
		if !ok {
			break
		}

		next := ""
		for _, it := range group {
			isAlias := dnswire.IsAlias(it.RR.Type())
			directMatch := it.RR.Type() == dnswire.RecordType(question.Type) && it.RR.Header().Class == question.Class
			if !isAlias && !directMatch {
				continue
			}
			result = append(result, it)
			if isAlias && next == "" {
				if nr, ok := it.RR.(*dnswire.NameRecord); ok {
					next = dnswire.NormalizeName(nr.Target)
				}
			}
		}

		if next == "" {
			break
		}
		if hop == MaxAliasChain {
			return chainResult{ordered: result, looped: true}
		}
		current = next
	}

	return chainResult{ordered: result}
}
