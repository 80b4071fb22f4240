package application

import (
	"regexp"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/textfit"
)

// mentionPattern matches "@handle" where handle has the label-dot-label
// shape. The leading byte before "@" must not be part of a word, which the
// alternation on start-of-string handles.
var mentionPattern = regexp.MustCompile(`(^|[^A-Za-z0-9])@([a-z0-9][a-z0-9-]*(?:\.[a-z0-9][a-z0-9-]*)+)`)

// detectEntities finds the links and mentions in outbound text so the
// network renders them as rich text. Offsets are byte offsets, as the
// network's facet model requires.
func detectEntities(text string) []model.RichTextEntity {
	var entities []model.RichTextEntity

	for _, span := range textfit.URLSpans(text) {
		entities = append(entities, model.RichTextEntity{
			ByteStart: span[0],
			ByteEnd:   span[1],
			Kind:      model.EntityLink,
			Value:     text[span[0]:span[1]],
		})
	}

	for _, m := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		// Group 2 is the handle; the entity span includes the "@" sigil.
		handleStart, handleEnd := m[4], m[5]
		if insideAny(entities, handleStart) {
			continue
		}
		entities = append(entities, model.RichTextEntity{
			ByteStart: handleStart - 1,
			ByteEnd:   handleEnd,
			Kind:      model.EntityMention,
			Value:     text[handleStart:handleEnd],
		})
	}

	return entities
}

// insideAny reports whether pos falls inside an already-detected entity,
// which happens when a URL contains an "@".
func insideAny(entities []model.RichTextEntity, pos int) bool {
	for _, e := range entities {
		if pos >= e.ByteStart && pos < e.ByteEnd {
			return true
		}
	}
	return false
}
