// internal/engine/actions.go
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/memory"
)

// actionExecutor runs the action list of a continue directive. Actions
// execute strictly in the directive's order; action i+1 starts only after
// action i completed. The first failure aborts the remainder of the batch.
type actionExecutor struct {
	session schemas.BrowserSession
	memory  *memory.Store
	logger  *zap.Logger
}

// executeBatch runs every action in order and returns the observation after
// the last one. On failure it records an action_result memory entry naming
// the failing index and returns an *ActionError; the caller decides whether
// the task survives.
func (x *actionExecutor) executeBatch(ctx context.Context, actions []schemas.BrowserAction) (schemas.Observation, error) {
	var lastObs schemas.Observation

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return schemas.Observation{}, err
		}

		x.logger.Debug("Executing browser action.",
			zap.Int("index", i),
			zap.String("type", string(action.Type)),
			zap.String("target", action.Target),
		)

		obs, err := x.session.Execute(ctx, action)
		if err != nil {
			actionErr := &ActionError{Index: i, Type: action.Type, Err: err}
			x.memory.Append(schemas.RoleActionResult, actionErr.Error())
			x.logger.Warn("Browser action failed; aborting batch.",
				zap.Int("index", i),
				zap.String("type", string(action.Type)),
				zap.Error(err),
			)
			return schemas.Observation{}, actionErr
		}

		x.memory.Append(schemas.RoleActionResult, describeActionSuccess(i, action))
		lastObs = obs
	}

	return lastObs, nil
}

func describeActionSuccess(index int, action schemas.BrowserAction) string {
	switch action.Type {
	case schemas.ActionNavigate:
		return fmt.Sprintf("action %d (%s) ok: %s", index, action.Type, action.Target)
	case schemas.ActionExtractText:
		return fmt.Sprintf("action %d (%s) ok: extracted text from %s", index, action.Type, action.Target)
	default:
		if action.Target != "" {
			return fmt.Sprintf("action %d (%s) ok: %s", index, action.Type, action.Target)
		}
		return fmt.Sprintf("action %d (%s) ok", index, action.Type)
	}
}
