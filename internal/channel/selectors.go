package channel

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kapu/lichess-copilot/internal/webdriver"
)

// moveLookup is one strategy for resolving the move text at a ply. found is
// false when the strategy matched nothing usable; err is a channel failure.
type moveLookup struct {
	name string
	run  func(ctx context.Context, ply int) (text string, found bool, err error)
}

// lookupChain returns the selector strategies in fixed priority order,
// most stable first. The indexed class scan survives markup reshuffles that
// break positional xpaths, so it goes first; the legacy absolute path is the
// last resort.
func (c *Channel) lookupChain() []moveLookup {
	xpathLookup := func(pattern string) func(context.Context, int) (string, bool, error) {
		return func(ctx context.Context, ply int) (string, bool, error) {
			el, err := c.sess.FindElement(ctx, webdriver.ByXPath, fmt.Sprintf(pattern, ply))
			if err != nil {
				return "", false, err
			}
			text, err := el.Text(ctx)
			if err != nil {
				return "", false, err
			}
			text = strings.TrimSpace(text)
			return text, text != "", nil
		}
	}

	return []moveLookup{
		{
			name: "class_index",
			run: func(ctx context.Context, ply int) (string, bool, error) {
				els, err := c.sess.FindElements(ctx, webdriver.ByCSS, selMoveNode)
				if err != nil {
					return "", false, err
				}
				if len(els) < ply {
					return "", false, nil
				}
				text, err := els[ply-1].Text(ctx)
				if err != nil {
					return "", false, err
				}
				text = strings.TrimSpace(text)
				return text, text != "", nil
			},
		},
		{name: "xpath_short", run: xpathLookup("(//kwdb)[%d]")},
		{name: "xpath_list", run: xpathLookup("//rm6/l4x/kwdb[%d]")},
		{name: "xpath_absolute", run: xpathLookup("/html/body/div[2]/main/div[1]/rm6/l4x/kwdb[%d]")},
	}
}

// lookupMoveText walks the strategy chain once. Each individual strategy
// call runs under the supervisor's bounded retry; the chain itself is never
// retried here. A no-such-element outcome means "slot not present yet", not
// a channel failure.
func (c *Channel) lookupMoveText(ctx context.Context, ply int) (string, bool, error) {
	for _, strat := range c.lookupChain() {
		var (
			text  string
			found bool
		)
		err := c.sup.Do(ctx, "move_lookup_"+strat.name, func(ctx context.Context) error {
			t, ok, err := strat.run(ctx, ply)
			if err != nil {
				return err
			}
			text, found = t, ok
			return nil
		})
		if err != nil {
			if webdriver.IsTransient(err) {
				// Fall through to the next strategy; the markup this one
				// relies on may simply not be there.
				continue
			}
			return "", false, err
		}
		if found {
			if strat.name != "class_index" {
				c.logger.Debug("move_lookup_fallback",
					zap.Int("ply", ply),
					zap.String("strategy", strat.name))
			}
			return text, true, nil
		}
	}
	return "", false, nil
}
