package runtime

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"cosmos/core"
	"cosmos/engine/manifest"
	"cosmos/engine/policy"
)

// approvalRequiredRe matches the denial message checkPermission produces for
// EffectPromptOnce / EffectPromptAlways, since a synchronous V8 callback has
// no way to block on a user decision itself.
var approvalRequiredRe = regexp.MustCompile(`^permission denied: (.+) \(requires user approval\)$`)

// defaultPermissionTimeout is used when PermissionGate.Timeout is unset.
const defaultPermissionTimeout = 60 * time.Second

// PermissionGate wraps a V8Executor and satisfies core.ToolExecutor. It
// resolves the prompt-required denials V8Executor can't handle itself: it
// asks the attached notifier to surface a permission prompt, waits for the
// user's decision or the timeout, persists "remember" grants into the
// policy evaluator, and retries the call once on approval.
type PermissionGate struct {
	Executor  *V8Executor
	Evaluator *policy.Evaluator
	Notifier  core.Notifier
	Timeout   time.Duration
}

// Execute implements core.ToolExecutor.
func (g *PermissionGate) Execute(ctx context.Context, name string, input map[string]any) (string, error) {
	result, err := g.Executor.Execute(ctx, name, input)
	if err == nil {
		return result, nil
	}

	match := approvalRequiredRe.FindStringSubmatch(err.Error())
	if match == nil || g.Notifier == nil {
		return result, err
	}
	permKey := match[1]

	agentName, rules, ok := g.Executor.ToolPermissionRules(name)
	if !ok {
		return result, err
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultPermissionTimeout
	}

	respCh := make(chan core.PermissionResponse, 1)
	g.Notifier.Send(core.PermissionRequestEvent{
		ToolCallID:   name,
		ToolName:     name,
		AgentName:    agentName,
		Permission:   permKey,
		Description:  fmt.Sprintf("%s wants to %s", agentName, permKey),
		Timeout:      timeout,
		DefaultAllow: false,
		ResponseChan: respCh,
	})

	var resp core.PermissionResponse
	select {
	case resp = <-respCh:
	case <-time.After(timeout):
		g.Notifier.Send(core.PermissionTimeoutEvent{ToolCallID: name, Allowed: false})
		return result, err
	case <-ctx.Done():
		return result, ctx.Err()
	}

	if !resp.Allowed {
		return result, err
	}
	if resp.Remember && g.Evaluator != nil {
		if parsed, perr := manifest.ParsePermissionKey(permKey); perr == nil {
			// Grants are keyed by the matching manifest rule, not the request.
			if d := g.Evaluator.Evaluate(agentName, parsed, rules); d.MatchedRule != nil {
				_ = g.Evaluator.RecordOnceDecision(agentName, d.MatchedRule.Key.Raw, true)
			}
		}
	}

	return g.Executor.Execute(ctx, name, input)
}

// ToolPermissionRules forwards to the wrapped V8Executor so callers (the
// audit log) can resolve a tool name to its owning agent without caring
// whether permission gating is in front of it.
func (g *PermissionGate) ToolPermissionRules(name string) (agentName string, rules []manifest.PermissionRule, ok bool) {
	return g.Executor.ToolPermissionRules(name)
}

var _ core.ToolExecutor = (*PermissionGate)(nil)
