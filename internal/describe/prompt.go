package describe

import (
	"fmt"
	"strings"

	"github.com/kalambet/opscribe/internal/engine"
)

const systemPrompt = `You are watching a screen share during a meeting where someone demonstrates how they do their work. Describe the single action the presenter is performing in this frame.

Start your answer with "ACTION:" followed by one imperative sentence that names the action (for example "ACTION: Click Export in the Reports page"). If nothing is happening, answer "NO ACTION".

After the first line you may add any of these lines when they are visible:
app: <application name>
page: <page or screen>
before: <state before the action>
after: <state after the action>
repeat: yes (if the action repeats one already described)`

// BuildPrompt constructs the chat messages for one frame. previous is the
// last accepted description for this meeting and may be empty.
func BuildPrompt(image string, previous string) []engine.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if previous != "" {
		fmt.Fprintf(&sb, "\n\n[Previous description]\n%s", previous)
	}
	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: "Describe the action in this frame.", Images: []string{image}},
	}
}
