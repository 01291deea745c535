package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/logging"
	"github.com/rrfs-ci/autoci/internal/state"
	"github.com/rrfs-ci/autoci/internal/watch"
)

// ErrRootNotCreated is returned when the experiment root never appeared.
var ErrRootNotCreated = errors.New("experiment root not created")

// PollHistory is the subset of the state store a poll session writes to.
type PollHistory interface {
	state.SessionStore
	state.ExperimentStore
}

// PollRequest describes one poll session.
type PollRequest struct {
	Root    string
	Options expt.Options
	// WaitForRoot bounds the wait for Root to appear. Zero polls at once.
	WaitForRoot time.Duration
	Reporter    expt.Reporter
	// History records the session when non-nil.
	History   PollHistory
	Logger    *log.Logger
	Observers []func(expt.Event)
}

// Poll waits for the experiment root, then runs the experiment poller,
// mirroring its progress into History. It returns the summary and the
// recorded session id.
func Poll(ctx context.Context, req PollRequest) (*expt.Summary, string, error) {
	logger := req.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if req.WaitForRoot > 0 {
		logger.Info("waiting for experiment root", "root", req.Root, "timeout", req.WaitForRoot)
		wctx, cancel := context.WithTimeout(ctx, req.WaitForRoot)
		err := watch.WaitForDir(wctx, req.Root, 0)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, "", fmt.Errorf("%w after %s: %s", ErrRootNotCreated, req.WaitForRoot, req.Root)
			}
			return nil, "", err
		}
	}

	p := expt.NewPoller(req.Options, req.Reporter, logger)
	for _, fn := range req.Observers {
		p.OnEvent(fn)
	}

	var rec *state.Recorder
	if req.History != nil {
		var err error
		rec, err = state.NewRecorder(req.History, req.Root, p.Options(), logger)
		if err != nil {
			logger.Warn("poll session will not be recorded", "err", err)
		} else {
			p.OnEvent(rec.OnEvent)
		}
	}

	sum, err := p.Run(ctx, req.Root)

	sessionID := ""
	if rec != nil {
		sessionID = rec.SessionID()
		if ferr := rec.Finish(sum, err); ferr != nil {
			logger.Warn("record poll result", "err", ferr)
		}
	}
	return sum, sessionID, err
}
