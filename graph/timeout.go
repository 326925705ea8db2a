package graph

import (
	"context"
	"fmt"
	"time"
)

// executeNodeWithTimeout wraps node execution with timeout enforcement.
//
// If defaultTimeout is 0, the node runs directly against ctx with no added
// deadline. Otherwise a derived context bounds the node's execution time;
// a node that overruns it gets EngineError{Code: "NODE_TIMEOUT"}.
func executeNodeWithTimeout[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	defaultTimeout time.Duration,
) (NodeResult[S], error) {
	if defaultTimeout == 0 {
		result := node.Run(ctx, state)
		return result, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		timeoutErr := &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, defaultTimeout),
			Code:    "NODE_TIMEOUT",
		}
		return result, timeoutErr
	}

	return result, nil
}
