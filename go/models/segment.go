package models

// Segment is a half-open address span [Start, End).
type Segment struct {
	Start, End uint64
}

func (s *Segment) Size() uint64 {
	return s.End - s.Start
}

func (s *Segment) Overlaps(o *Segment) bool {
	return (s.Start >= o.Start && s.Start < o.End) || (o.Start >= s.Start && o.Start < s.End)
}

func (s *Segment) Merge(o *Segment) {
	if s.Start > o.Start {
		s.Start = o.Start
	}
	if s.End < o.End {
		s.End = o.End
	}
}

// Minus returns the parts of s not covered by any of spans, in address order.
// spans must be sorted by Start and must not overlap each other.
func (s *Segment) Minus(spans []Segment) []Segment {
	var ret []Segment
	pos := s.Start
	for i := range spans {
		o := &spans[i]
		if o.End <= pos || !o.Overlaps(s) {
			continue
		}
		if o.Start > pos {
			ret = append(ret, Segment{pos, o.Start})
		}
		pos = o.End
		if pos >= s.End {
			return ret
		}
	}
	if pos < s.End {
		ret = append(ret, Segment{pos, s.End})
	}
	return ret
}
