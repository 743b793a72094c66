package fault

import "errors"

type recordingSink struct {
	reports []Report
	err     error
}

func (s *recordingSink) Report(r Report) error {
	s.reports = append(s.reports, r)
	return s.err
}

type recordingRaiser struct {
	codes []Code
}

func (r *recordingRaiser) Raise(c Code) { r.codes = append(r.codes, c) }

var errSink = errors.New("sink down")
