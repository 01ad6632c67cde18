package resource

import (
	"strings"
	"unicode"

	"mioforge/internal/gene"
	"mioforge/internal/model"
)

// Matcher scores how plausibly the value produced by one action can serve as
// the reference input of another. Scores are in [0,1]; the manager keeps
// pairs at or above its threshold.
type Matcher interface {
	Name() string
	Score(producer *model.Action, produced *model.Param, consumer *model.Action, reference *model.Param) float64
}

// NameTypeMatcher matches on normalised parameter and resource names and
// requires compatible gene kinds.
type NameTypeMatcher struct{}

func (NameTypeMatcher) Name() string { return "name_type" }

func (NameTypeMatcher) Score(producer *model.Action, produced *model.Param, consumer *model.Action, reference *model.Param) float64 {
	kind := kindCompatibility(produced.Primary(), reference.Primary())
	if kind == 0 {
		return 0
	}
	out := normalize(produced.Name())
	ref := normalize(reference.Name())
	producerResource := singular(normalize(producer.Resource()))
	consumerResource := singular(normalize(consumer.Resource()))

	var name float64
	switch {
	case ref == "id" && out == "id":
		// A bare id addresses the consumer's own collection.
		if producerResource == consumerResource {
			name = 1
		}
	case ref == producerResource+"id" && out == "id":
		name = 0.9
	case ref == out && ref != "id":
		name = 0.8
		if strings.HasPrefix(ref, producerResource) {
			name = 0.85
		}
	case strings.HasSuffix(ref, "id") && strings.HasSuffix(out, "id") && strings.HasPrefix(ref, producerResource):
		name = 0.6
	}
	return name * kind
}

// kindCompatibility is 1 for identical kinds, 0.75 for values that survive a
// textual round-trip between kinds, 0 otherwise.
func kindCompatibility(produced, reference gene.Gene) float64 {
	a, b := baseKind(produced), baseKind(reference)
	switch {
	case a == b:
		return 1
	case a == gene.KindInteger && (b == gene.KindString || b == gene.KindRegex):
		return 0.75
	case (a == gene.KindString || a == gene.KindRegex) && (b == gene.KindString || b == gene.KindRegex):
		return 1
	default:
		return 0
	}
}

func baseKind(g gene.Gene) gene.Kind {
	if opt, ok := g.(*gene.Optional); ok {
		return baseKind(opt.Inner())
	}
	return g.Kind()
}

func normalize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if r == '_' || r == '-' || r == '.' || r == ' ' {
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

func singular(name string) string {
	switch {
	case strings.HasSuffix(name, "ies") && len(name) > 3:
		return name[:len(name)-3] + "y"
	case strings.HasSuffix(name, "ses") && len(name) > 3:
		return name[:len(name)-2]
	case strings.HasSuffix(name, "s") && !strings.HasSuffix(name, "ss") && len(name) > 1:
		return name[:len(name)-1]
	default:
		return name
	}
}
