package metrics

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Segment times one piece of work inside the transaction carried by a
// context. A nil Segment is valid and does nothing, so callers never check
// whether New Relic is enabled.
type Segment struct {
	txn *newrelic.Transaction
	seg *newrelic.Segment
}

// StartSegment opens a segment named name in the transaction attached to ctx
// by StartTransaction. It returns nil when there is no transaction.
func StartSegment(ctx context.Context, name string, attributes map[string]interface{}) *Segment {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return nil
	}

	s := &Segment{txn: txn, seg: txn.StartSegment(name)}
	for k, v := range attributes {
		s.seg.AddAttribute(k, v)
	}
	return s
}

// AddAttribute annotates the segment.
func (s *Segment) AddAttribute(key string, value interface{}) {
	if s == nil {
		return
	}
	s.seg.AddAttribute(key, value)
}

// End closes the segment, noticing err on the transaction when it is set.
func (s *Segment) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.txn.NoticeError(err)
	}
	s.seg.End()
}
