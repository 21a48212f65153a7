package methodscript

import (
	"strings"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

// Package is the ordered list of values decoded from one "P" line.
type Package []Value

// ParsePackage decodes a line of the form P<field>;<field>;...
func ParsePackage(line string) (Package, error) {
	if !strings.HasPrefix(line, "P") {
		return nil, faults.Protocol("no package data: %q", line)
	}

	fields := strings.Split(line[1:], ";")
	pkg := make(Package, 0, len(fields))
	for _, f := range fields {
		v, err := ParseValue(f)
		if err != nil {
			return nil, err
		}
		pkg = append(pkg, v)
	}
	return pkg, nil
}

// Find returns the first value of type t.
func (p Package) Find(t Type) (Value, bool) {
	for _, v := range p {
		if v.Type == t {
			return v, true
		}
	}
	return Value{}, false
}

func (p Package) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = v.String()
	}
	return strings.Join(parts, " - ")
}

// EncodePackage renders fields as a "P" line without the terminating newline.
// Together with EncodeValue it produces the replies decoded by ParsePackage.
func EncodePackage(fields ...string) string {
	return "P" + strings.Join(fields, ";")
}
