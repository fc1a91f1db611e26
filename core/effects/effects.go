// Package effects maps recognized utterances onto device side effects by
// keyword.
package effects

import (
	"context"
	"strings"
)

type Tag string

const (
	TagDoor   Tag = "door"
	TagColor  Tag = "color"
	TagTurn   Tag = "turn"
	TagLights Tag = "lights"
)

// Trigger fires Tag when any of Keywords occurs in the lower-cased input.
type Trigger struct {
	Tag      Tag
	Keywords []string
}

// DefaultTriggers is the keyword table used by Classify.
var DefaultTriggers = []Trigger{
	{Tag: TagDoor, Keywords: []string{"door", "open"}},
	{Tag: TagColor, Keywords: []string{"color"}},
	{Tag: TagTurn, Keywords: []string{"spin", "turn"}},
	{Tag: TagLights, Keywords: []string{"light"}},
}

// Classify returns the tags triggered by text using DefaultTriggers.
func Classify(text string) []Tag {
	return NewClassifier(DefaultTriggers).Classify(text)
}

type Classifier struct {
	triggers []Trigger
}

func NewClassifier(triggers []Trigger) Classifier {
	normalized := make([]Trigger, 0, len(triggers))
	for _, trigger := range triggers {
		keywords := make([]string, 0, len(trigger.Keywords))
		for _, keyword := range trigger.Keywords {
			if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
				keywords = append(keywords, keyword)
			}
		}
		normalized = append(normalized, Trigger{Tag: trigger.Tag, Keywords: keywords})
	}
	return Classifier{triggers: normalized}
}

// Classify matches every trigger independently, so one utterance can fire
// several tags. Tags come back in table order without duplicates.
func (c Classifier) Classify(text string) []Tag {
	lowered := strings.ToLower(text)
	tags := []Tag{}
	seen := map[Tag]bool{}
	for _, trigger := range c.triggers {
		if seen[trigger.Tag] {
			continue
		}
		for _, keyword := range trigger.Keywords {
			if strings.Contains(lowered, keyword) {
				tags = append(tags, trigger.Tag)
				seen[trigger.Tag] = true
				break
			}
		}
	}
	return tags
}

type Sink interface {
	HandleEffect(ctx context.Context, tag Tag)
}

type SinkFunc func(ctx context.Context, tag Tag)

func (f SinkFunc) HandleEffect(ctx context.Context, tag Tag) { f(ctx, tag) }

// MultiSink fans one effect out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) HandleEffect(ctx context.Context, tag Tag) {
	for _, sink := range m {
		if sink != nil {
			sink.HandleEffect(ctx, tag)
		}
	}
}
