// Package fdt builds and inspects flattened device tree blobs.
//
// Trees are described declaratively as Node values and serialized with
// Build. Discover walks an existing blob and extracts the interrupt
// controller description a driver needs to attach to the hardware.
package fdt

// Property holds a single device-tree property value. Exactly one of
// the typed fields may be populated for a given property; Flag marks a
// property that is present but carries no payload.
type Property struct {
	Strings []string
	U32     []uint32
	U64     []uint64
	Bytes   []byte
	Flag    bool
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields on the property are populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Node describes a device-tree node.
type Node struct {
	Name       string
	Properties map[string]Property
	Children   []Node
}
