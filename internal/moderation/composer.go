package moderation

import (
	"fmt"
	"sort"
	"strings"

	"agora/pkg/types"
)

const (
	violationText = "⚠️ Warning: Please keep the conversation respectful and constructive. Personal attacks or offensive language are not allowed."
	helpText      = "I'm here to help facilitate this debate. Remember to support your arguments with evidence and stay on topic."
	generalText   = "I'm monitoring this debate to ensure it stays constructive and on-topic. Continue sharing your perspectives while respecting others' viewpoints."
	terminateText = "Due to repeated violations of our community guidelines, this debate session is being terminated."
	summaryPrefix = "Debate Summary: "
)

// Composer renders moderator message content
type Composer interface {
	Compose(kind types.SynthesisKind, sc types.SynthesisContext) (string, error)
	Digest(sc types.SynthesisContext) string
}

// TemplateComposer produces fixed, deterministic texts
type TemplateComposer struct{}

func (TemplateComposer) Compose(kind types.SynthesisKind, sc types.SynthesisContext) (string, error) {
	switch kind {
	case types.KindWelcome:
		return fmt.Sprintf("Welcome to the debate on \"%s\". I'll be moderating this session. "+
			"Please keep the conversation respectful and on-topic. "+
			"Once %s joined, you can begin the discussion.", sc.Title, quorumWords(sc.Quorum)), nil

	case types.KindJoinNotice:
		name := "A new participant"
		if sc.Newcomer != nil && sc.Newcomer.Name != "" {
			name = sc.Newcomer.Name
		}
		text := name + " has joined the debate."
		if sc.Quorum > 0 && sc.ParticipantCount >= sc.Quorum {
			text += " There are now enough participants to begin the discussion."
		}
		return text, nil

	case types.KindAdvisory:
		return advisory(sc), nil

	case types.KindSummary:
		return summaryPrefix + TemplateComposer{}.Digest(sc), nil

	case types.KindTermination:
		return terminateText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func advisory(sc types.SynthesisContext) string {
	switch primaryCategory(sc.Categories) {
	case CategoryViolation:
		if sc.WarningLimit > 0 && sc.WarningCount > 0 {
			return fmt.Sprintf("%s (Warning %d of %d)", violationText, sc.WarningCount, sc.WarningLimit)
		}
		return violationText
	case CategoryHelp:
		return helpText
	case CategorySummary:
		human, contributors := tally(sc.Transcript)
		if human == 0 {
			return "Nobody has made an argument yet. Share your perspective to get the discussion started."
		}
		return fmt.Sprintf("Based on the conversation so far, %d %s been shared by %d %s. Most active: %s.",
			human, plural(human, "message has", "messages have"),
			len(contributors), plural(len(contributors), "participant", "participants"),
			formatContributors(contributors, 3))
	}
	return generalText
}

// Digest summarizes the human part of the transcript
func (TemplateComposer) Digest(sc types.SynthesisContext) string {
	human, contributors := tally(sc.Transcript)
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you all for participating in the debate on \"%s\".", sc.Title)
	if human == 0 {
		b.WriteString(" No arguments were exchanged.")
	} else {
		fmt.Fprintf(&b, " %d %s exchanged by %d %s (%s).",
			human, plural(human, "message was", "messages were"),
			len(contributors), plural(len(contributors), "contributor", "contributors"),
			formatContributors(contributors, 0))
	}
	if len(sc.Tags) > 0 {
		fmt.Fprintf(&b, " Topics: %s.", strings.Join(sc.Tags, ", "))
	}
	if sc.WarningCount > 0 {
		fmt.Fprintf(&b, " The moderator issued %d %s.", sc.WarningCount, plural(sc.WarningCount, "warning", "warnings"))
	}
	return b.String()
}

func primaryCategory(categories []string) string {
	for _, want := range []string{CategoryViolation, CategoryHelp, CategorySummary} {
		for _, c := range categories {
			if c == want {
				return want
			}
		}
	}
	return CategoryGeneral
}

type contributor struct {
	name  string
	count int
}

func tally(transcript []types.Message) (int, []contributor) {
	counts := map[string]*contributor{}
	var order []string
	human := 0
	for _, m := range transcript {
		if m.IsSynthesized {
			continue
		}
		human++
		c, ok := counts[m.SenderID]
		if !ok {
			c = &contributor{name: m.SenderName}
			counts[m.SenderID] = c
			order = append(order, m.SenderID)
		}
		c.count++
	}
	out := make([]contributor, 0, len(order))
	for _, id := range order {
		out = append(out, *counts[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return human, out
}

func formatContributors(cs []contributor, limit int) string {
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("%s: %d", c.name, c.count)
	}
	return strings.Join(parts, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func quorumWords(n int) string {
	switch n {
	case 0, 1:
		return "one participant has"
	case 2:
		return "two participants have"
	case 3:
		return "three participants have"
	}
	return fmt.Sprintf("%d participants have", n)
}
