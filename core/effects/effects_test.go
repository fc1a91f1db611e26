package effects

import (
	"context"
	"slices"
	"testing"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected []Tag
	}{
		{name: "door and lights", text: "please open the light", expected: []Tag{TagDoor, TagLights}},
		{name: "spin", text: "spin around", expected: []Tag{TagTurn}},
		{name: "no match", text: "hello", expected: []Tag{}},
		{name: "case insensitive", text: "Change the COLOR", expected: []Tag{TagColor}},
		{name: "duplicate keywords fire once", text: "open the door", expected: []Tag{TagDoor}},
		{name: "all tags", text: "turn the lights a new color and open up", expected: []Tag{TagDoor, TagColor, TagTurn, TagLights}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Classify(testCase.text); !slices.Equal(got, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}

func TestDispatchNotifiesSinkOncePerTag(t *testing.T) {
	var received []Tag
	d := NewDispatcher(SinkFunc(func(_ context.Context, tag Tag) {
		received = append(received, tag)
	}))

	tags := d.Dispatch(context.Background(), "turn on the lights")

	expected := []Tag{TagTurn, TagLights}
	if !slices.Equal(tags, expected) {
		t.Fatalf("expected returned tags %v, got %v", expected, tags)
	}
	if !slices.Equal(received, expected) {
		t.Fatalf("expected sink to receive %v, got %v", expected, received)
	}
}

func TestDispatchWithoutSinkOnlyClassifies(t *testing.T) {
	d := NewDispatcher(nil)
	if got := d.Dispatch(context.Background(), "open"); !slices.Equal(got, []Tag{TagDoor}) {
		t.Fatalf("expected [door], got %v", got)
	}
}

func TestCustomTriggers(t *testing.T) {
	d := NewDispatcher(nil, WithTriggers([]Trigger{{Tag: "music", Keywords: []string{" Play "}}}))
	if got := d.Dispatch(context.Background(), "play something"); !slices.Equal(got, []Tag{"music"}) {
		t.Fatalf("expected [music], got %v", got)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	calls := 0
	sink := MultiSink{
		SinkFunc(func(context.Context, Tag) { calls++ }),
		nil,
		SinkFunc(func(context.Context, Tag) { calls++ }),
	}
	sink.HandleEffect(context.Background(), TagDoor)
	if calls != 2 {
		t.Fatalf("expected two sink calls, got %d", calls)
	}
}
