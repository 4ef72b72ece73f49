package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// rawNode is a parsed device-tree node. Property values stay as raw
// big-endian bytes; callers decode on access.
type rawNode struct {
	name     string
	props    map[string][]byte
	children []*rawNode
}

// parse checks the blob header and walks the structure block into a
// node tree.
func parse(blob []byte) (*rawNode, error) {
	if len(blob) < fdtHeaderSize {
		return nil, fmt.Errorf("fdt: blob too short (%d bytes)", len(blob))
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != fdtMagic {
		return nil, fmt.Errorf("fdt: bad magic 0x%08x", magic)
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	if uint64(totalSize) > uint64(len(blob)) {
		return nil, fmt.Errorf("fdt: header claims %d bytes, have %d", totalSize, len(blob))
	}
	version := binary.BigEndian.Uint32(blob[20:24])
	if version < fdtLastCompVer {
		return nil, fmt.Errorf("fdt: unsupported version %d", version)
	}

	offStruct := binary.BigEndian.Uint32(blob[8:12])
	offStrings := binary.BigEndian.Uint32(blob[12:16])
	sizeStrings := binary.BigEndian.Uint32(blob[32:36])
	sizeStruct := binary.BigEndian.Uint32(blob[36:40])
	if uint64(offStruct)+uint64(sizeStruct) > uint64(totalSize) ||
		uint64(offStrings)+uint64(sizeStrings) > uint64(totalSize) {
		return nil, fmt.Errorf("fdt: block offsets exceed blob size")
	}

	p := &parser{
		structBlock: blob[offStruct : offStruct+sizeStruct],
		strings:     blob[offStrings : offStrings+sizeStrings],
	}

	for {
		tok, err := p.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenNop:
		case tokenBeginNode:
			root, err := p.node()
			if err != nil {
				return nil, err
			}
			return root, nil
		default:
			return nil, fmt.Errorf("fdt: expected root node, found token 0x%x", tok)
		}
	}
}

type parser struct {
	structBlock []byte
	strings     []byte
	pos         int
}

func (p *parser) u32() (uint32, error) {
	if p.pos+4 > len(p.structBlock) {
		return 0, fmt.Errorf("fdt: truncated structure block")
	}
	v := binary.BigEndian.Uint32(p.structBlock[p.pos:])
	p.pos += 4
	return v, nil
}

// node parses the body of a node whose begin token has already been
// consumed, through its matching end token.
func (p *parser) node() (*rawNode, error) {
	name, err := p.nodeName()
	if err != nil {
		return nil, err
	}
	n := &rawNode{name: name, props: make(map[string][]byte)}

	for {
		tok, err := p.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenProp:
			length, err := p.u32()
			if err != nil {
				return nil, err
			}
			nameOff, err := p.u32()
			if err != nil {
				return nil, err
			}
			if p.pos+int(length) > len(p.structBlock) {
				return nil, fmt.Errorf("fdt: truncated property value")
			}
			value := p.structBlock[p.pos : p.pos+int(length)]
			p.pos += int(length)
			p.pad()
			propName, err := p.stringAt(nameOff)
			if err != nil {
				return nil, err
			}
			n.props[propName] = value
		case tokenBeginNode:
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		case tokenEndNode:
			return n, nil
		case tokenNop:
		default:
			return nil, fmt.Errorf("fdt: unexpected token 0x%x in node %q", tok, name)
		}
	}
}

func (p *parser) nodeName() (string, error) {
	end := bytes.IndexByte(p.structBlock[p.pos:], 0)
	if end < 0 {
		return "", fmt.Errorf("fdt: unterminated node name")
	}
	name := string(p.structBlock[p.pos : p.pos+end])
	p.pos += end + 1
	p.pad()
	return name, nil
}

func (p *parser) stringAt(off uint32) (string, error) {
	if uint64(off) >= uint64(len(p.strings)) {
		return "", fmt.Errorf("fdt: property name offset 0x%x out of range", off)
	}
	end := bytes.IndexByte(p.strings[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("fdt: unterminated property name at 0x%x", off)
	}
	return string(p.strings[off : int(off)+end]), nil
}

func (p *parser) pad() {
	for p.pos%4 != 0 {
		p.pos++
	}
}
