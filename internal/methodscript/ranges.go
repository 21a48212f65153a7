package methodscript

import "fmt"

var currentRanges = map[int]string{
	0:  "100nA",
	1:  "2uA",
	2:  "4uA",
	3:  "8uA",
	4:  "16uA",
	5:  "32uA",
	6:  "63uA",
	7:  "125uA",
	8:  "250uA",
	9:  "500uA",
	10: "1mA",
	11: "15mA",

	128: "100nA (High speed)",
	129: "1uA (High speed)",
	130: "6uA (High speed)",
	131: "13uA (High speed)",
	132: "25uA (High speed)",
	133: "50uA (High speed)",
	134: "100uA (High speed)",
	135: "200uA (High speed)",
	136: "1mA (High speed)",
	137: "5mA (High speed)",
}

// CurrentRangeName returns the label of a current range code reported in
// the "2x" metadata token.
func CurrentRangeName(code int) string {
	if n, ok := currentRanges[code]; ok {
		return n
	}
	return fmt.Sprintf("range 0x%X", code)
}
