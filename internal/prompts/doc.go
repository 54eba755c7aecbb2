// Package prompts contains the prompt text sent to models.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, are compiled in, and
// can be checked by tests. User-facing configuration lives in
// config.yaml; this package holds the role policies and the messages the
// dispatch loop injects or returns on its own behalf.
//
// Convention: each prompt category gets its own file with exported
// constants or functions that accept the dynamic parts.
package prompts
