package events

const (
	// KindRecognitionIgnored identifies results that cannot start a turn.
	KindRecognitionIgnored Kind = "recognition.ignored"
	// KindRecognitionDropped identifies actionable results discarded outside listening.
	KindRecognitionDropped Kind = "recognition.dropped"
)

type RecognitionIgnored struct {
	Base
	Text      string
	IsPartial bool
}

func NewRecognitionIgnored(text string, isPartial bool) RecognitionIgnored {
	return RecognitionIgnored{Base: NewBase(KindRecognitionIgnored), Text: text, IsPartial: isPartial}
}

type RecognitionDropped struct {
	Base
	Text   string
	Reason string
}

func NewRecognitionDropped(text, reason string) RecognitionDropped {
	return RecognitionDropped{Base: NewBase(KindRecognitionDropped), Text: text, Reason: reason}
}
