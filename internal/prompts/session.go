package prompts

import (
	"fmt"
	"strings"
)

// SessionContext describes the signed-in caller to the model. It names
// the role only; the caller's id never appears in prompt text.
func SessionContext(role string, hasPersonalTools, bound bool) string {
	var sb strings.Builder
	sb.WriteString("## Session\n\n")
	fmt.Fprintf(&sb, "The user is signed in with role %s.", role)
	if hasPersonalTools {
		sb.WriteString(" Personal tools (get_my_*) already know who the user is.")
	}
	if !bound {
		sb.WriteString(" No user account is bound; personal tools will fail.")
	}
	return sb.String()
}
