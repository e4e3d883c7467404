// Package classify maps the venue's numeric order-type codes onto semantic
// order classifications. The mapping is a fixed table over the closed set of
// codes the venue emits; anything outside the table classifies as unknown
// and must not be replicated.
package classify

import "github.com/alanyoungcy/mirrorbot/internal/domain"

// The venue encodes {open long, open short, close long, close short} ×
// {market, limit, stop} as codes 1-12.
var table = map[int]domain.OrderClassification{
	1:  {IsBuy: true, IsLong: true, IsMarket: true},
	2:  {IsBuy: true, IsLong: true, IsLimit: true},
	3:  {IsBuy: true, IsLong: true, IsStop: true},
	4:  {IsSell: true, IsShort: true, IsMarket: true},
	5:  {IsSell: true, IsShort: true, IsLimit: true},
	6:  {IsSell: true, IsShort: true, IsStop: true},
	7:  {IsExit: true, IsLong: true, IsMarket: true},
	8:  {IsExit: true, IsLong: true, IsLimit: true},
	9:  {IsExit: true, IsLong: true, IsStop: true},
	10: {IsExit: true, IsShort: true, IsMarket: true},
	11: {IsExit: true, IsShort: true, IsLimit: true},
	12: {IsExit: true, IsShort: true, IsStop: true},
}

// Classify returns the classification for the given order-type code. Codes
// outside the known set return the zero classification (Known() == false);
// callers treat that as "do not replicate" rather than guessing.
func Classify(code int) domain.OrderClassification {
	return table[code]
}

// KnownCodes returns the order-type codes the classifier recognizes, for
// diagnostics.
func KnownCodes() []int {
	codes := make([]int, 0, len(table))
	for c := range table {
		codes = append(codes, c)
	}
	return codes
}
