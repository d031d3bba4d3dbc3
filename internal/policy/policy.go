// Package policy implements admission control for session commands.
//
// Every command dispatched to a session is classified against three
// command-name tiers (blocked, dangerous, allowed) plus a set of
// hard-blocked line patterns before any process is spawned. Blocked always
// wins over dangerous, and dangerous wins over allowed. The allowed tier is
// a closed world: a command whose base token matches none of the tiers is
// rejected, and caller confirmation for a dangerous command never exempts
// it from that check.
package policy

import (
	"fmt"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Decision is the outcome class of classifying a command.
type Decision string

const (
	DecisionAllowed              Decision = "allowed"
	DecisionRequiresConfirmation Decision = "requires_confirmation"
	DecisionBlocked              Decision = "blocked"
	DecisionInvalid              Decision = "invalid"
)

// SafetyDangerous is the safety level attached to decisions that demand
// caller confirmation before execution.
const SafetyDangerous = "dangerous"

// Rule names reported in Result.Rule for decisions that do not stem from a
// specific list entry or pattern.
const (
	RuleAllowlist = "allowlist"
	RuleEmpty     = "empty"
	RuleParse     = "parse"
)

// Result describes how a command was classified and why.
type Result struct {
	Decision    Decision `json:"decision"`
	Reason      string   `json:"reason,omitempty"`
	Rule        string   `json:"rule,omitempty"`
	SafetyLevel string   `json:"safety_level,omitempty"`
}

// Error is returned by session dispatch when a command fails admission
// control. It carries the full classification so callers can distinguish
// a hard block from a missing confirmation.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	switch e.Result.Decision {
	case DecisionInvalid:
		return fmt.Sprintf("invalid command: %s", e.Result.Reason)
	case DecisionRequiresConfirmation:
		return fmt.Sprintf("command requires confirmation: %s", e.Result.Reason)
	default:
		return fmt.Sprintf("command blocked: %s", e.Result.Reason)
	}
}

// RequiresConfirmation reports whether the rejection only asks for an
// explicit safety confirmation rather than forbidding the command outright.
func (e *Error) RequiresConfirmation() bool {
	return e.Result.Decision == DecisionRequiresConfirmation
}

// Policy holds the compiled admission-control tiers. Instances are
// immutable after construction and safe for concurrent use.
type Policy struct {
	allowed       map[string]bool
	dangerous     map[string]bool
	blocked       map[string]bool
	blockPatterns []string
}

// Classify decides whether command may be executed. safetyConfirmed
// indicates that the caller has explicitly acknowledged a dangerous
// command; it has no effect on blocked or unlisted commands.
//
// Classification never has side effects and never spawns anything.
func (p *Policy) Classify(command string, safetyConfirmed bool) Result {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Result{
			Decision: DecisionInvalid,
			Reason:   "command must be a non-empty string",
			Rule:     RuleEmpty,
		}
	}

	// Hard-blocked line patterns are checked against the whole command
	// before anything else, so a blocked line is reported as blocked even
	// when it would not tokenize.
	for _, pat := range p.blockPatterns {
		if strings.HasPrefix(trimmed, pat) {
			return Result{
				Decision: DecisionBlocked,
				Reason:   fmt.Sprintf("command matches blocked pattern %q", strings.TrimSpace(pat)),
				Rule:     strings.TrimSpace(pat),
			}
		}
	}

	// The base token is the first shell word, so quoted arguments cannot
	// smuggle a different command name past the lists.
	words, err := shellwords.Parse(trimmed)
	if err != nil || len(words) == 0 {
		return Result{
			Decision: DecisionInvalid,
			Reason:   "command cannot be parsed into arguments",
			Rule:     RuleParse,
		}
	}
	base := words[0]

	if p.blocked[base] {
		return Result{
			Decision: DecisionBlocked,
			Reason:   fmt.Sprintf("command %q is blocked", base),
			Rule:     base,
		}
	}

	// Dangerous commands need an explicit confirmation, and a confirmed
	// command still has to pass the allowlist check below.
	if p.dangerous[base] && !safetyConfirmed {
		return Result{
			Decision:    DecisionRequiresConfirmation,
			Reason:      fmt.Sprintf("command %q modifies or deletes data and requires confirmation", base),
			Rule:        base,
			SafetyLevel: SafetyDangerous,
		}
	}

	if !p.allowed[base] {
		return Result{
			Decision: DecisionBlocked,
			Reason:   fmt.Sprintf("command %q is not in the allowed command list", base),
			Rule:     RuleAllowlist,
		}
	}

	return Result{Decision: DecisionAllowed}
}

// Check is a convenience wrapper that converts a non-allowed
// classification into an *Error.
func (p *Policy) Check(command string, safetyConfirmed bool) error {
	res := p.Classify(command, safetyConfirmed)
	if res.Decision != DecisionAllowed {
		return &Error{Result: res}
	}
	return nil
}
