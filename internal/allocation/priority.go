package allocation

import "fmt"

// BandWidth separates source bands. Every score of a source lies in
// (weight*BandWidth, (weight+1)*BandWidth], so bands never overlap.
const BandWidth int64 = 100000

var sourceWeight = map[Source]int64{
	SourceEmergency: 1000,
	SourcePriority:  400,
	SourceFollowup:  300,
	SourceOnline:    200,
	SourceWalkin:    100,
}

// Score maps a source and an arrival ordinal to a priority score. Higher is
// served sooner; within a source, an earlier arrival scores higher.
//
// arrival is the token's 1-based creation order within its slot. Sources
// without a band are rejected with ErrInvalidSource.
func Score(source Source, arrival int64) (int64, error) {
	base, ok := sourceWeight[source]
	if !ok {
		return 0, fmt.Errorf("%w: %q has no priority band", ErrInvalidSource, source)
	}
	return base*BandWidth + (BandWidth - arrival%BandWidth), nil
}
