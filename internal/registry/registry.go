// Package registry implements the trader registry (§3): a stable bijection
// between account address and dense integer ID, assigned in sorted-address
// order at first appearance. Its lifetime is a process lifetime — IDs minted
// by one Registry stay valid (and stable) for every token and window the
// rest of the pipeline processes afterward.
package registry

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is the trader address <-> dense ID bijection described in §3.
// IDs are contiguous starting at 1. Not safe for concurrent writes; callers
// build the full registry from a batch of addresses before the SCC/
// volume-matching parallel regions begin (§5: "Member map is read-only
// after construction" applies symmetrically to the trader registry).
type Registry struct {
	idByAddress map[string]int64
	addrByID    []string // 1-indexed: addrByID[id-1] == address
}

// New builds a Registry from a set of raw addresses, normalizing each
// through common.Address so checksum-casing variants collapse to one ID,
// then assigning IDs in ascending sorted order of the normalized form.
func New(addresses []string) *Registry {
	seen := make(map[string]struct{}, len(addresses))
	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		canon := canonicalize(a)
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		normalized = append(normalized, canon)
	}
	sort.Strings(normalized)

	r := &Registry{
		idByAddress: make(map[string]int64, len(normalized)),
		addrByID:    make([]string, len(normalized)),
	}
	for i, addr := range normalized {
		id := int64(i + 1)
		r.idByAddress[addr] = id
		r.addrByID[i] = addr
	}
	return r
}

// canonicalize renders a hex address through common.Address's EIP-55
// checksum form so any casing variant of the same address maps to one
// trader ID; non-hex identifiers (some source chains use opaque strings)
// pass through unchanged.
func canonicalize(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// ID returns the dense trader ID for an address, and whether it was known.
func (r *Registry) ID(address string) (int64, bool) {
	id, ok := r.idByAddress[canonicalize(address)]
	return id, ok
}

// Address reverse-looks-up the human-readable address for a trader ID.
func (r *Registry) Address(id int64) (string, bool) {
	if id < 1 || int(id) > len(r.addrByID) {
		return "", false
	}
	return r.addrByID[id-1], true
}

// Len returns the number of distinct traders registered.
func (r *Registry) Len() int {
	return len(r.addrByID)
}

// AddressesFor resolves a sorted member-ID list into sorted human-readable
// addresses, for the address cluster map (§6 Outputs).
func (r *Registry) AddressesFor(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if addr, ok := r.Address(id); ok {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}
